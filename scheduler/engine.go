package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher is the seam the scheduler fires through: an EventBridge rule
// ARN/name plus the fire time becomes a "Scheduled Event" envelope
// dispatched to every matching target. *fanout.Engine implements this
// directly (its PublishScheduledEvent method), keeping this package from
// importing fanout (spec.md §4.13's invoker-contract decoupling applied
// to every cross-component call, not only compute invocation).
type Publisher interface {
	PublishScheduledEvent(ruleARN, ruleName string, firedAt time.Time)
}

// Engine maintains one min-heap of next-fire times across every
// scheduled rule (spec.md §4.12).
type Engine struct {
	publisher Publisher
	log       *zap.Logger

	mu      sync.Mutex
	entries map[string]*scheduleEntry
	heap    scheduleHeap

	wake chan struct{}
}

func NewEngine(publisher Publisher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{publisher: publisher, log: log, entries: make(map[string]*scheduleEntry), wake: make(chan struct{}, 1)}
	heap.Init(&e.heap)
	return e
}

// Reset drops every scheduled rule, for the management plane's POST
// /_ldk/reset (spec.md §4.14).
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = make(map[string]*scheduleEntry)
	e.heap = scheduleHeap{}
	heap.Init(&e.heap)
}

// PutSchedule (re)parses and (re)schedules ruleARN's expression, firing
// first at Expression.Next(time.Now()).
func (e *Engine) PutSchedule(ruleARN, ruleName, scheduleExpr string) error {
	expr, err := Parse(scheduleExpr)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.entries[ruleARN]; ok {
		e.removeLocked(existing)
	}
	entry := &scheduleEntry{ruleARN: ruleARN, ruleName: ruleName, expr: expr, nextFire: expr.Next(time.Now())}
	e.entries[ruleARN] = entry
	heap.Push(&e.heap, entry)
	e.signal()
	return nil
}

func (e *Engine) RemoveSchedule(ruleARN string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.entries[ruleARN]; ok {
		e.removeLocked(entry)
		e.signal()
	}
}

func (e *Engine) removeLocked(entry *scheduleEntry) {
	if entry.index >= 0 && entry.index < e.heap.Len() && e.heap[entry.index] == entry {
		heap.Remove(&e.heap, entry.index)
	}
	delete(e.entries, entry.ruleARN)
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run sleeps until the heap head's fire time, pops every entry whose
// time has arrived, re-schedules each, and publishes a scheduled-event
// envelope for each (spec.md §4.12). Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		wait, ok := e.nextWait()
		var timer *time.Timer
		var timerC <-chan time.Time
		if ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-e.wake:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timerC:
			e.fireDue()
		}
	}
}

func (e *Engine) nextWait() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.heap.Len() == 0 {
		return 0, false
	}
	wait := time.Until(e.heap[0].nextFire)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (e *Engine) fireDue() {
	now := time.Now()
	var due []*scheduleEntry
	e.mu.Lock()
	for e.heap.Len() > 0 && !e.heap[0].nextFire.After(now) {
		entry := heap.Pop(&e.heap).(*scheduleEntry)
		due = append(due, entry)
	}
	for _, entry := range due {
		entry.nextFire = entry.expr.Next(now)
		heap.Push(&e.heap, entry)
	}
	e.mu.Unlock()

	for _, entry := range due {
		e.publisher.PublishScheduledEvent(entry.ruleARN, entry.ruleName, now)
	}
}
