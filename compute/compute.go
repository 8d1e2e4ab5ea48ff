// Package compute implements the Compute Invoker Contract (C13): the
// abstract invoke(event, context) port every other component calls
// through rather than assuming a particular execution backend
// (spec.md §4.13). Implementations of Invoker are "treated as external
// collaborators" per spec.md; Engine here is the one this emulator
// ships, standing in for a container-backed function runtime the way
// the original system's ICompute implementations stand in for real
// Lambda containers (original_source/src/lws/interfaces/compute.py).
package compute

import (
	"context"
	"time"
)

// InvocationContext mirrors the AWS Lambda context object passed to a
// function invocation: metadata about the call plus a
// RemainingTimeMillis query, grounded directly on
// original_source/src/lws/interfaces/compute.py's LambdaContext
// dataclass and its get_remaining_time_in_millis method.
type InvocationContext struct {
	FunctionName       string
	MemoryLimitMB      int
	TimeoutSeconds     int
	RequestID          string
	InvokedFunctionARN string

	start time.Time
}

// NewInvocationContext stamps start at construction time so
// RemainingTimeMillis is measured from the moment the invocation began,
// not from first call.
func NewInvocationContext(functionName string, memoryLimitMB, timeoutSeconds int, requestID, invokedFunctionARN string) InvocationContext {
	return InvocationContext{
		FunctionName:       functionName,
		MemoryLimitMB:      memoryLimitMB,
		TimeoutSeconds:     timeoutSeconds,
		RequestID:          requestID,
		InvokedFunctionARN: invokedFunctionARN,
		start:              time.Now(),
	}
}

// RemainingTimeMillis returns max(0, timeout - elapsed) in milliseconds.
func (c InvocationContext) RemainingTimeMillis() int64 {
	elapsed := time.Since(c.start)
	remaining := time.Duration(c.TimeoutSeconds)*time.Second - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// InvocationResult is what Invoke returns: either Payload or Error is
// set, never both, alongside timing/identity metadata every caller
// (fan-out dispatcher, queue poller, URL front, stream dispatcher) logs
// and surfaces uniformly.
type InvocationResult struct {
	Payload    []byte
	Error      string
	DurationMs float64
	RequestID  string
}

// Invoker is the abstract port spec.md §4.13 names. Event is the raw
// JSON event document (already decoded so callers can inspect/route on
// it without re-parsing); Invoke re-marshals it for the handler.
type Invoker interface {
	Invoke(ctx context.Context, functionName string, event map[string]interface{}) (InvocationResult, error)
}

// Handler is the registered function body: the in-process stand-in for
// a container's entrypoint. Returning an error is surfaced to the
// caller as InvocationResult.Error, matching Lambda's unhandled
// exception reporting rather than propagating a Go error past Invoke.
type Handler func(ctx context.Context, event map[string]interface{}, ictx InvocationContext) (map[string]interface{}, error)
