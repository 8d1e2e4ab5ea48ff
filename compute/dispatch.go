package compute

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// FanoutDeliver adapts Engine to fanout.Deliver (structurally — compute
// intentionally does not import fanout, keeping the decoupling the
// invoker contract names symmetric: fanout doesn't know about compute,
// and compute doesn't know about fanout). protocol "lambda" invokes the
// function named by endpoint with the envelope as its event; any other
// protocol is rejected, since HTTP/SQS endpoints are delivered directly
// by fanout/queue, not through this port.
type FanoutDeliver struct {
	Engine *Engine
	Log    *zap.Logger
}

func NewFanoutDeliver(engine *Engine, log *zap.Logger) *FanoutDeliver {
	if log == nil {
		log = zap.NewNop()
	}
	return &FanoutDeliver{Engine: engine, Log: log}
}

func (d *FanoutDeliver) Deliver(ctx context.Context, protocol, endpoint string, envelope []byte) error {
	if protocol != "lambda" {
		return errUnsupportedProtocol(protocol)
	}
	event, err := unmarshalEvent(envelope)
	if err != nil {
		return err
	}
	result, err := d.Engine.Invoke(ctx, endpoint, event)
	if err != nil {
		return err
	}
	if result.Error != "" {
		return errInvocation(endpoint, result.Error)
	}
	return nil
}

// ObjectNotifier adapts Engine to objectstore.Notifier for bucket
// notification targets whose ARN identifies a compute function rather
// than an SNS topic or SQS queue (spec.md §4.9).
type ObjectNotifier struct {
	Engine *Engine
	Log    *zap.Logger
}

func NewObjectNotifier(engine *Engine, log *zap.Logger) *ObjectNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ObjectNotifier{Engine: engine, Log: log}
}

// Notify invokes the function named by targetARN's resource segment
// with the event envelope as its payload. A failed invocation is logged
// and returned to the caller; an error reported by the function itself
// (InvocationResult.Error) is logged and not returned.
func (n *ObjectNotifier) Notify(ctx context.Context, targetARN string, eventEnvelope []byte) error {
	functionName := functionNameFromARN(targetARN)
	if functionName == "" {
		return errUnsupportedProtocol("notify:" + targetARN)
	}
	event, err := unmarshalEvent(eventEnvelope)
	if err != nil {
		return err
	}
	result, err := n.Engine.Invoke(ctx, functionName, event)
	if err != nil {
		n.Log.Warn("object notification invocation failed", zap.String("target", targetARN), zap.Error(err))
		return err
	}
	if result.Error != "" {
		n.Log.Warn("object notification invocation returned error", zap.String("target", targetARN), zap.String("error", result.Error))
	}
	return nil
}

func functionNameFromARN(arn string) string {
	const marker = ":function:"
	idx := strings.LastIndex(arn, marker)
	if idx < 0 {
		return ""
	}
	return arn[idx+len(marker):]
}

type unsupportedProtocolError struct{ protocol string }

func (e *unsupportedProtocolError) Error() string {
	return "compute delivery does not support protocol " + e.protocol
}

func errUnsupportedProtocol(protocol string) error { return &unsupportedProtocolError{protocol} }

type invocationError struct {
	function string
	message  string
}

func (e *invocationError) Error() string {
	return "invocation of " + e.function + " failed: " + e.message
}

func errInvocation(function, message string) error { return &invocationError{function, message} }
