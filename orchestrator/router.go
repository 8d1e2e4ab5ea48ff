package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cloudfleet/emulator/compute"
	"github.com/cloudfleet/emulator/fanout"
	"github.com/cloudfleet/emulator/queue"
)

// subDeliver is the one method deliverRouter calls on each per-protocol
// deliverer (compute.FanoutDeliver, queueDeliver, httpDeliver).
type subDeliver interface {
	Deliver(ctx context.Context, protocol, endpoint string, envelope []byte) error
}

// deliverRouter satisfies fanout.Deliver by dispatching on protocol to
// whichever sub-deliverer was wired for it. fanout.Engine is
// constructed before compute exists (bring-up order: ...scheduler,
// sns/events, compute...), so the lambda slot starts nil and is filled
// in by SetLambda once the compute engine is built, before any
// provider's Start is called — the "cross-refs are injected via
// provider.set_x(y) setter methods before start()" rule (spec.md §4.7).
// Each slot is an atomic pointer with its own setter.
type deliverRouter struct {
	queue  atomic.Pointer[subDeliver]
	lambda atomic.Pointer[subDeliver]
	http   atomic.Pointer[subDeliver]
}

func newDeliverRouter() *deliverRouter { return &deliverRouter{} }

func (d *deliverRouter) SetQueue(sd subDeliver)  { d.queue.Store(&sd) }
func (d *deliverRouter) SetLambda(sd subDeliver) { d.lambda.Store(&sd) }
func (d *deliverRouter) SetHTTP(sd subDeliver)   { d.http.Store(&sd) }

func (d *deliverRouter) Deliver(ctx context.Context, protocol, endpoint string, envelope []byte) error {
	var slot *subDeliver
	switch protocol {
	case "sqs":
		slot = d.queue.Load()
	case "lambda":
		slot = d.lambda.Load()
	case "http", "https":
		slot = d.http.Load()
	default:
		return fmt.Errorf("no deliverer wired for protocol %q", protocol)
	}
	if slot == nil {
		return fmt.Errorf("deliverer for protocol %q not yet wired", protocol)
	}
	return (*slot).Deliver(ctx, protocol, endpoint, envelope)
}

// queueDeliver adapts queue.Engine to fanout's Deliver seam for the
// "sqs" protocol: endpoint is the target queue's ARN, envelope becomes
// the message body verbatim. Unlike the lambda slot (wired late because
// compute doesn't exist yet when fanout is built), queue is always
// available by the time fanout is constructed, so this adapter can be
// built eagerly and handed to deliverRouter.SetQueue immediately.
type queueDeliver struct {
	engine *queue.Engine
}

func newQueueDeliver(engine *queue.Engine) *queueDeliver {
	return &queueDeliver{engine: engine}
}

func (q *queueDeliver) Deliver(ctx context.Context, protocol, endpoint string, envelope []byte) error {
	_, err := q.engine.SendMessage(endpoint, string(envelope), nil, 0, "", "")
	return err
}

// Notify satisfies objectstore.Notifier/subNotify for an "sqs" ARN
// target, the same SendMessage call Deliver makes for fanout's "sqs"
// subscriptions.
func (q *queueDeliver) Notify(ctx context.Context, targetARN string, eventEnvelope []byte) error {
	_, err := q.engine.SendMessage(targetARN, string(eventEnvelope), nil, 0, "", "")
	return err
}

// queueSource adapts *queue.Engine to compute.QueueSource for event
// source mappings (spec.md §4.13's queue-poller callout).
type queueSource struct {
	engine *queue.Engine
}

func newQueueSource(engine *queue.Engine) *queueSource {
	return &queueSource{engine: engine}
}

func (q *queueSource) ReceiveMessage(queueARN string, max int) ([]compute.QueueMessage, error) {
	msgs, err := q.engine.ReceiveMessage(queueARN, max)
	if err != nil {
		return nil, err
	}
	out := make([]compute.QueueMessage, len(msgs))
	for i, m := range msgs {
		out[i] = compute.QueueMessage{Body: m.Body, ReceiptHandle: m.ReceiptHandle}
	}
	return out, nil
}

func (q *queueSource) DeleteMessage(queueARN, receiptHandle string) error {
	return q.engine.DeleteMessage(queueARN, receiptHandle)
}

// topicNotify adapts *fanout.Engine to subNotify for the "sns" ARN
// case: an S3 bucket notification configured to publish straight to a
// topic rather than through a subscription.
type topicNotify struct {
	engine *fanout.Engine
}

func newTopicNotify(engine *fanout.Engine) *topicNotify {
	return &topicNotify{engine: engine}
}

func (t *topicNotify) Notify(ctx context.Context, targetARN string, eventEnvelope []byte) error {
	return t.engine.Publish(targetARN, uuid.NewString(), string(eventEnvelope), nil, time.Now().UTC().Format(time.RFC3339))
}

// httpDeliver is the plain net/http POST deliverer for raw "http"/
// "https" protocol subscriptions/targets (a subscriber SDK pointed
// directly at a URL rather than at another in-process service).
type httpDeliver struct {
	client *http.Client
}

func newHTTPDeliver() *httpDeliver {
	return &httpDeliver{client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *httpDeliver) Deliver(ctx context.Context, protocol, endpoint string, envelope []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delivery to %s returned status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// subNotify is the narrow slice of objectstore.Notifier / compute's
// ObjectNotifier this router dispatches to.
type subNotify interface {
	Notify(ctx context.Context, targetARN string, eventEnvelope []byte) error
}

// notifyRouter satisfies objectstore.Notifier by dispatching an S3
// bucket notification to whichever service owns targetARN's "arn:aws:
// {service}:..." segment. It is built with every slot nil and handed to
// the object store via Store.SetNotifier straight away; the orchestrator
// then assigns the sqs, sns and lambda fields as each engine is built,
// before any provider starts. A target whose slot is still nil gets an
// error.
type notifyRouter struct {
	sqs    subNotify
	sns    subNotify
	lambda subNotify
}

func newNotifyRouter(sqs, sns, lambda subNotify) *notifyRouter {
	return &notifyRouter{sqs: sqs, sns: sns, lambda: lambda}
}

func (n *notifyRouter) Notify(ctx context.Context, targetARN string, eventEnvelope []byte) error {
	parts := strings.SplitN(targetARN, ":", 6)
	if len(parts) < 3 {
		return fmt.Errorf("malformed target ARN %q", targetARN)
	}
	switch parts[2] {
	case "sqs":
		if n.sqs == nil {
			return fmt.Errorf("no sqs notifier wired")
		}
		return n.sqs.Notify(ctx, targetARN, eventEnvelope)
	case "sns":
		if n.sns == nil {
			return fmt.Errorf("no sns notifier wired")
		}
		return n.sns.Notify(ctx, targetARN, eventEnvelope)
	case "lambda":
		if n.lambda == nil {
			return fmt.Errorf("no lambda notifier wired")
		}
		return n.lambda.Notify(ctx, targetARN, eventEnvelope)
	default:
		return fmt.Errorf("no notifier for ARN service %q", parts[2])
	}
}

// schedulerPublisher adapts *fanout.Engine to scheduler.Publisher via a
// late-bound pointer for the same bring-up-order reason deliverRouter
// exists: scheduler is constructed before fanout (bring-up order:
// ...queue, scheduler, sns/events...).
type schedulerPublisher struct {
	engine atomic.Pointer[schedulerTarget]
}

// schedulerTarget is the one method this package calls on *fanout.Engine.
type schedulerTarget interface {
	PublishScheduledEvent(ruleARN, ruleName string, firedAt time.Time)
}

func newSchedulerPublisher() *schedulerPublisher { return &schedulerPublisher{} }

func (p *schedulerPublisher) SetEngine(e schedulerTarget) { p.engine.Store(&e) }

func (p *schedulerPublisher) PublishScheduledEvent(ruleARN, ruleName string, firedAt time.Time) {
	if slot := p.engine.Load(); slot != nil {
		(*slot).PublishScheduledEvent(ruleARN, ruleName, firedAt)
	}
}
