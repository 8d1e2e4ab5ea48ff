package scheduler

import (
	"container/heap"
	"time"
)

// scheduleEntry is one scheduled rule's next-fire time. The `index`
// field mirrors aistore's atime-ordered PriorityQueue
// (dfc/checkfs.go/heapobj.go) convention of tracking each item's heap
// position for container/heap's fix-up bookkeeping.
type scheduleEntry struct {
	ruleARN  string
	ruleName string
	expr     *Expression
	nextFire time.Time
	index    int
}

type scheduleHeap []*scheduleEntry

func (h scheduleHeap) Len() int { return len(h) }
func (h scheduleHeap) Less(i, j int) bool {
	return h[i].nextFire.Before(h[j].nextFire)
}
func (h scheduleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *scheduleHeap) Push(x interface{}) {
	e := x.(*scheduleEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *scheduleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*scheduleHeap)(nil)
