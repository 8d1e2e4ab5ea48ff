package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/cmn"
)

// dedupWindow is SQS FIFO's deduplication window: a message with a
// caller-supplied dedup id already seen within this window is accepted
// but not re-enqueued.
const dedupWindow = 5 * time.Minute

type queueState struct {
	mu       sync.Mutex
	cfg      QueueConfig
	ready    []*Message
	inflight map[string]*Message // receipt handle -> message
	lockedGroup map[string]bool  // FIFO: group ids currently in-flight
	dedupSeen map[string]dedupEntry
}

// dedupEntry records when a dedup id was first sent and the id of the
// message that send enqueued.
type dedupEntry struct {
	at        time.Time
	messageID string
}

// Engine owns every queue's state and the single background task that
// requeues or DLQs messages whose visibility deadline has passed
// (spec.md §4.11).
type Engine struct {
	log *zap.Logger

	mu     sync.RWMutex
	queues map[string]*queueState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log, queues: make(map[string]*queueState)}
}

func queueARN(region, name string) string {
	return fmt.Sprintf("arn:aws:sqs:%s:000000000000:%s", region, name)
}

// Run starts the visibility-expiry sweep; it blocks until ctx is
// cancelled, matching kv/stream.go's Run(ctx)-owned-by-caller convention.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// Reset drops every queue, for the management plane's POST /_ldk/reset
// (spec.md §4.14).
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues = make(map[string]*queueState)
}

func (e *Engine) sweep() {
	e.mu.RLock()
	states := make([]*queueState, 0, len(e.queues))
	for _, qs := range e.queues {
		states = append(states, qs)
	}
	e.mu.RUnlock()

	now := time.Now()
	for _, qs := range states {
		qs.mu.Lock()
		for handle, msg := range qs.inflight {
			if now.Before(msg.VisibleAt) {
				continue
			}
			delete(qs.inflight, handle)
			delete(qs.lockedGroup, msg.GroupID)
			msg.ReceiveCount++
			msg.ReceiptHandle = ""
			if qs.cfg.DLQArn != "" && qs.cfg.MaxReceiveCount > 0 && msg.ReceiveCount > qs.cfg.MaxReceiveCount {
				e.moveToDLQ(qs.cfg.DLQArn, msg)
				continue
			}
			qs.ready = append(qs.ready, msg)
		}
		qs.mu.Unlock()
	}
}

func (e *Engine) moveToDLQ(dlqARN string, msg *Message) {
	e.mu.RLock()
	dlq, ok := e.queues[dlqARN]
	e.mu.RUnlock()
	if !ok {
		e.log.Warn("queue: configured DLQ not found", zap.String("dlq", dlqARN))
		return
	}
	dlq.mu.Lock()
	dlq.ready = append(dlq.ready, msg)
	dlq.mu.Unlock()
}

func (e *Engine) CreateQueue(name string, fifo bool, visibility time.Duration, maxReceive int, dlqARN string) *QueueConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	arn := queueARN(cmn.DefaultRegion, name)
	if qs, ok := e.queues[arn]; ok {
		return &qs.cfg
	}
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}
	cfg := QueueConfig{ARN: arn, Name: name, FIFO: fifo, VisibilityTimeout: visibility, MaxReceiveCount: maxReceive, DLQArn: dlqARN}
	e.queues[arn] = &queueState{
		cfg: cfg, inflight: make(map[string]*Message),
		lockedGroup: make(map[string]bool), dedupSeen: make(map[string]dedupEntry),
	}
	return &cfg
}

func (e *Engine) DeleteQueue(arn string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.queues, arn)
}

func (e *Engine) lookup(arn string) (*queueState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qs, ok := e.queues[arn]
	if !ok {
		return nil, &cmn.NotFoundError{Msg: "no such queue: " + arn}
	}
	return qs, nil
}

// SendMessage enqueues body, becoming visible immediately or after delay.
func (e *Engine) SendMessage(queueARN, body string, attrs map[string]MessageAttribute, delay time.Duration, groupID, dedupID string) (string, error) {
	qs, err := e.lookup(queueARN)
	if err != nil {
		return "", err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	msgID := uuid.NewString()
	if qs.cfg.FIFO && dedupID != "" {
		e.expireDedup(qs)
		if seen, ok := qs.dedupSeen[dedupID]; ok {
			return seen.messageID, nil
		}
		qs.dedupSeen[dedupID] = dedupEntry{at: time.Now(), messageID: msgID}
	}

	msg := &Message{
		MessageID: msgID, Body: body, Attributes: attrs,
		GroupID: groupID, DedupID: dedupID, SentAt: time.Now(),
		VisibleAt: time.Now().Add(delay),
	}
	qs.ready = append(qs.ready, msg)
	return msg.MessageID, nil
}

func (e *Engine) expireDedup(qs *queueState) {
	now := time.Now()
	for id, seen := range qs.dedupSeen {
		if now.Sub(seen.at) > dedupWindow {
			delete(qs.dedupSeen, id)
		}
	}
}

// ReceiveMessage dequeues up to max ready messages not currently
// delayed, leasing each with a fresh receipt handle and visibility
// deadline. FIFO queues never return two messages from the same
// in-flight message group concurrently.
func (e *Engine) ReceiveMessage(queueARN string, max int) ([]*Message, error) {
	qs, err := e.lookup(queueARN)
	if err != nil {
		return nil, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	now := time.Now()
	var out []*Message
	var remaining []*Message
	for _, msg := range qs.ready {
		if len(out) >= max || now.Before(msg.VisibleAt) || (qs.cfg.FIFO && qs.lockedGroup[msg.GroupID]) {
			remaining = append(remaining, msg)
			continue
		}
		msg.ReceiptHandle = cmn.GenReceiptHandle()
		msg.VisibleAt = now.Add(qs.cfg.VisibilityTimeout)
		qs.inflight[msg.ReceiptHandle] = msg
		if qs.cfg.FIFO {
			qs.lockedGroup[msg.GroupID] = true
		}
		out = append(out, msg)
	}
	qs.ready = remaining
	return out, nil
}

func (e *Engine) DeleteMessage(queueARN, receiptHandle string) error {
	qs, err := e.lookup(queueARN)
	if err != nil {
		return err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	msg, ok := qs.inflight[receiptHandle]
	if !ok {
		return &cmn.NotFoundError{Msg: "receipt handle not in flight: " + receiptHandle}
	}
	delete(qs.inflight, receiptHandle)
	delete(qs.lockedGroup, msg.GroupID)
	return nil
}

// DeleteMessageBatch deletes every handle it can and returns the ones it
// could not find, matching SQS's partial-failure batch contract.
func (e *Engine) DeleteMessageBatch(queueARN string, receiptHandles []string) (failed []string) {
	for _, h := range receiptHandles {
		if err := e.DeleteMessage(queueARN, h); err != nil {
			failed = append(failed, h)
		}
	}
	return failed
}

func (e *Engine) ChangeMessageVisibility(queueARN, receiptHandle string, timeout time.Duration) error {
	qs, err := e.lookup(queueARN)
	if err != nil {
		return err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	msg, ok := qs.inflight[receiptHandle]
	if !ok {
		return &cmn.NotFoundError{Msg: "receipt handle not in flight: " + receiptHandle}
	}
	msg.VisibleAt = time.Now().Add(timeout)
	return nil
}
