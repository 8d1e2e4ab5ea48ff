package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/cmn"
)

// Engine is the Invoker this emulator ships: it runs a registered
// Handler in-process under a per-call timeout, the stand-in for the
// container-backed function runtime spec.md §4.13 treats as an
// external collaborator. Grounded on kv/stream.go's dispatcher shape
// (timeout/duration bookkeeping, structured logging) generalized to a
// single request/response call instead of a retrying background
// consumer — invocation retries are the caller's concern (fan-out and
// queue already carry their own retry budgets), not this engine's.
type Engine struct {
	Registry *Registry
	log      *zap.Logger
}

func NewEngine(registry *Registry, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Registry: registry, log: log}
}

// Invoke satisfies Invoker: it looks up functionName's handler, runs it
// under a context bounded by the function's configured timeout, and
// reports duration/request id regardless of outcome. A Handler panic is
// recovered and reported as InvocationResult.Error, matching Lambda's
// behavior of surfacing an unhandled exception without killing the
// invoker process.
func (e *Engine) Invoke(ctx context.Context, functionName string, event map[string]interface{}) (result InvocationResult, err error) {
	handler, cfg, ok := e.Registry.handlerFor(functionName)
	if !ok {
		return InvocationResult{}, &cmn.NotFoundError{Msg: "function not found: " + functionName}
	}

	requestID := uuid.NewString()
	ictx := NewInvocationContext(cfg.Name, cfg.MemorySize, cfg.Timeout, requestID, cfg.ARN)

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	start := time.Now()
	result.RequestID = requestID

	done := make(chan struct{})
	var payload map[string]interface{}
	var callErr error
	go func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("panic: %v", r)
			}
			close(done)
		}()
		payload, callErr = handler(callCtx, event, ictx)
	}()

	select {
	case <-done:
	case <-callCtx.Done():
		result.DurationMs = float64(time.Since(start).Milliseconds())
		result.Error = "Task timed out after " + fmt.Sprintf("%d", cfg.Timeout) + " seconds"
		e.log.Warn("invocation timed out", zap.String("function", functionName), zap.String("request_id", requestID))
		return result, nil
	}

	result.DurationMs = float64(time.Since(start).Milliseconds())
	if callErr != nil {
		result.Error = callErr.Error()
		e.log.Warn("invocation error", zap.String("function", functionName), zap.String("request_id", requestID), zap.Error(callErr))
		return result, nil
	}

	body, marshalErr := marshalPayload(payload)
	if marshalErr != nil {
		result.Error = marshalErr.Error()
		return result, nil
	}
	result.Payload = body
	return result, nil
}
