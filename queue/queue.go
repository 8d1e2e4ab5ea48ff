// Package queue implements the Queue + DLQ component (C11): SQS-shaped
// standard and FIFO queues with visibility timeouts and dead-letter
// routing, generalized from aistore's xaction work-item queue
// (xaction/xreg + downloader's job queue) into the visibility-deadline
// lease-and-requeue model spec.md §4.11 names.
package queue

import "time"

// MessageAttribute is the SQS attribute-value shape, flattened to the
// single string value every consumer of this package reads.
type MessageAttribute struct {
	DataType string
	Value    string
}

// Message is one enqueued unit of work, in whichever of the three states
// (ready, in-flight, delayed) its VisibleAt/ReceiptHandle fields imply.
type Message struct {
	MessageID     string
	Body          string
	Attributes    map[string]MessageAttribute
	ReceiptHandle string
	ReceiveCount  int
	GroupID       string
	DedupID       string
	SentAt        time.Time
	VisibleAt     time.Time
}

// QueueConfig is a queue's static description.
type QueueConfig struct {
	ARN               string
	Name              string
	FIFO              bool
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
	DLQArn            string
}

const defaultVisibilityTimeout = 30 * time.Second
