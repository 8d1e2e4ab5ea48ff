package kv

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/cmn"
)

const defaultStreamCapacity = 1024

// streamRetryAttempts / streamRetryBaseDelay is the KV stream
// dispatcher's retry budget (SPEC_FULL.md §3): a fixed small number of
// attempts with exponential backoff, not unbounded retry. The fan-out
// dispatcher keeps its own, different schedule (fanout's retryDelays).
const (
	streamRetryAttempts  = 3
	streamRetryBaseDelay = 100 * time.Millisecond
)

// StreamRecord is one change-log entry, filtered by the table's
// configured view type before being handed to subscribers.
type StreamRecord struct {
	TableName      string
	SequenceNumber uint64
	EventName      string // INSERT | MODIFY | REMOVE
	Keys           cmn.Item
	NewImage       cmn.Item `json:",omitempty"`
	OldImage       cmn.Item `json:",omitempty"`
}

// Subscriber receives stream records in order; typically a Compute
// Invoker Contract binding, but kept as a plain function so tests can
// stand in a fake without depending on package compute (avoiding an
// import cycle, since compute invocations may themselves write to kv).
type Subscriber func(ctx context.Context, rec StreamRecord) error

// Stream is a per-table in-memory ring buffer of StreamRecords plus the
// background dispatcher that drains it to subscribers in write order.
// Kept in-memory only (not buntdb-backed): see SPEC_FULL.md's Open
// Questions decision on stream persistence across restarts.
type Stream struct {
	mu     sync.Mutex
	buf    []StreamRecord
	cap    int
	subs   []Subscriber
	notify chan struct{}
	log    *zap.Logger
}

func NewStream(capacity int) *Stream {
	return &Stream{cap: capacity, notify: make(chan struct{}, 1), log: zap.NewNop()}
}

func (s *Stream) SetLogger(l *zap.Logger) { s.log = l }

func (s *Stream) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// append adds a record and wakes the dispatcher; the ring drops the
// oldest record once capacity is exceeded (dispatcher keeps up under
// normal load since this is a single-process in-memory queue).
func (s *Stream) append(rec StreamRecord) {
	s.mu.Lock()
	s.buf = append(s.buf, rec)
	if len(s.buf) > s.cap {
		s.buf = s.buf[len(s.buf)-s.cap:]
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run drains the buffer to every subscriber in order until ctx is
// canceled. Records for the same partition key arrive to subscribers in
// write order because the buffer is a single FIFO queue drained by one
// goroutine.
func (s *Stream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.buf) == 0 {
				s.mu.Unlock()
				break
			}
			rec := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			s.dispatch(ctx, rec)
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, rec StreamRecord) {
	s.mu.Lock()
	subs := append([]Subscriber{}, s.subs...)
	s.mu.Unlock()
	for _, sub := range subs {
		s.dispatchOne(ctx, sub, rec)
	}
}

func (s *Stream) dispatchOne(ctx context.Context, sub Subscriber, rec StreamRecord) {
	delay := streamRetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= streamRetryAttempts; attempt++ {
		if err := sub(ctx, rec); err == nil {
			return
		} else {
			lastErr = err
		}
		if attempt < streamRetryAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	s.log.Warn("stream subscriber failed after retry budget exhausted, dropping record",
		zap.String("table", rec.TableName),
		zap.Uint64("sequence_number", rec.SequenceNumber),
		zap.Error(lastErr))
}

// buildStreamRecord materializes a StreamRecord for one write, filtering
// the images by the table's configured view type.
func buildStreamRecord(meta TableMeta, seq uint64, eventName string, key, newImage, oldImage cmn.Item) StreamRecord {
	rec := StreamRecord{
		TableName:      meta.Name,
		SequenceNumber: seq,
		EventName:      eventName,
		Keys:           key,
	}
	switch meta.Stream.ViewType {
	case "NEW_IMAGE":
		rec.NewImage = newImage
	case "OLD_IMAGE":
		rec.OldImage = oldImage
	case "NEW_AND_OLD_IMAGES":
		rec.NewImage = newImage
		rec.OldImage = oldImage
	case "KEYS_ONLY":
		// keys only, already set
	}
	return rec
}
