package compute

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QueueSource is the narrow slice of queue.Engine an event source
// mapping polls: receive a batch, delete on success, matching the
// queue-poller seam spec.md §4.13 names alongside fan-out, URL fronts,
// and stream dispatchers as callers that invoke through this port.
// Messages carry Body (the event payload) and ReceiptHandle (used to
// delete on successful invocation); defined locally rather than
// importing package queue to keep this package's only outward
// dependency the Invoker contract itself.
type QueueMessage struct {
	Body          string
	ReceiptHandle string
}

type QueueSource interface {
	ReceiveMessage(queueARN string, max int) ([]QueueMessage, error)
	DeleteMessage(queueARN, receiptHandle string) error
}

const (
	eventSourcePollInterval = 1 * time.Second
	eventSourceBatchSize    = 10
)

// EventSourceMapping polls one queue and invokes one function per
// received message, deleting the message only after a successful
// (non-error) invocation — a failed invocation leaves the message
// in-flight so the queue's own visibility-expiry sweep redrives it,
// eventually routing to a configured DLQ the same way a direct consumer
// failure would (queue/engine.go's sweep).
type EventSourceMapping struct {
	Source       QueueSource
	Engine       *Engine
	QueueARN     string
	FunctionName string
	Log          *zap.Logger

	cancel context.CancelFunc
}

func NewEventSourceMapping(source QueueSource, engine *Engine, queueARN, functionName string, log *zap.Logger) *EventSourceMapping {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventSourceMapping{Source: source, Engine: engine, QueueARN: queueARN, FunctionName: functionName, Log: log}
}

func (m *EventSourceMapping) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
}

func (m *EventSourceMapping) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *EventSourceMapping) run(ctx context.Context) {
	ticker := time.NewTicker(eventSourcePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *EventSourceMapping) poll(ctx context.Context) {
	messages, err := m.Source.ReceiveMessage(m.QueueARN, eventSourceBatchSize)
	if err != nil {
		m.Log.Warn("event source mapping receive failed", zap.String("queue", m.QueueARN), zap.Error(err))
		return
	}
	for _, msg := range messages {
		event, err := unmarshalEvent([]byte(msg.Body))
		if err != nil {
			m.Log.Warn("event source mapping event decode failed", zap.String("queue", m.QueueARN), zap.Error(err))
			continue
		}
		result, err := m.Engine.Invoke(ctx, m.FunctionName, event)
		if err != nil || result.Error != "" {
			m.Log.Warn("event source mapping invocation failed", zap.String("function", m.FunctionName), zap.Error(err))
			continue
		}
		if err := m.Source.DeleteMessage(m.QueueARN, msg.ReceiptHandle); err != nil {
			m.Log.Warn("event source mapping delete failed", zap.String("queue", m.QueueARN), zap.Error(err))
		}
	}
}
