package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/cmn"
)

// Deliver is the sink a subscription/target's envelope is handed to: an
// SQS queue, a compute invocation, or an HTTP endpoint. Implementations
// live in the queue/compute packages; the orchestrator injects one
// Engine-wide Deliver so this package never imports them directly
// (spec.md §4.13's invoker-contract decoupling, the same seam
// objectstore.Notifier uses for bucket notifications).
type Deliver interface {
	Deliver(ctx context.Context, protocol, endpoint string, envelope []byte) error
}

var (
	retryDelays = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}
	dispatchQueueDepth = 256
)

type job struct {
	protocol string
	endpoint string
	envelope []byte
}

// worker is one subscription's or target's bounded delivery channel plus
// the goroutine draining it, matching kv/stream.go's per-consumer
// retry-with-backoff dispatcher but with this service's own retry
// budget (spec.md §4.10: 3 retries, 250ms/500ms/1s).
type worker struct {
	ch chan job
}

// Engine is the shared dispatch core for SNS-shaped topics/subscriptions
// and EventBridge-shaped rules/targets (spec.md §4.10).
type Engine struct {
	deliver Deliver
	log     *zap.Logger
	region  string

	mu            sync.RWMutex
	topics        map[string]*Topic
	subscriptions map[string][]Subscription // topic ARN -> subscriptions
	rules         map[string]*Rule

	workerMu sync.Mutex
	workers  map[string]*worker // key = subscription ID or "target:" + rule ARN + target ID

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(deliver Deliver, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deliver:       deliver,
		log:           log,
		region:        cmn.DefaultRegion,
		topics:        make(map[string]*Topic),
		subscriptions: make(map[string][]Subscription),
		rules:         make(map[string]*Rule),
		workers:       make(map[string]*worker),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Stop cancels the engine's context and waits for every worker to exit;
// jobs still queued in a worker's channel are not delivered. Call once
// at orchestrator shutdown.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func topicARN(region, name string) string { return fmt.Sprintf("arn:aws:sns:%s:000000000000:%s", region, name) }
func ruleARN(region, name string) string  { return fmt.Sprintf("arn:aws:events:%s:000000000000:rule/%s", region, name) }

// --- Topics / subscriptions --------------------------------------------

// Reset drops every topic, subscription, and rule, stopping their
// delivery workers, for the management plane's POST /_ldk/reset
// (spec.md §4.14).
func (e *Engine) Reset() {
	e.mu.Lock()
	e.topics = make(map[string]*Topic)
	e.subscriptions = make(map[string][]Subscription)
	e.rules = make(map[string]*Rule)
	e.mu.Unlock()

	e.workerMu.Lock()
	keys := make([]string, 0, len(e.workers))
	for key := range e.workers {
		keys = append(keys, key)
	}
	e.workerMu.Unlock()
	for _, key := range keys {
		e.stopWorker(key)
	}
}

func (e *Engine) CreateTopic(name string) *Topic {
	e.mu.Lock()
	defer e.mu.Unlock()
	arn := topicARN(e.region, name)
	if t, ok := e.topics[arn]; ok {
		return t
	}
	t := &Topic{ARN: arn, Name: name}
	e.topics[arn] = t
	return t
}

func (e *Engine) DeleteTopic(arn string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.topics, arn)
	for _, sub := range e.subscriptions[arn] {
		e.stopWorker(sub.ID)
	}
	delete(e.subscriptions, arn)
}

func (e *Engine) ListTopics() []*Topic {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Topic, 0, len(e.topics))
	for _, t := range e.topics {
		out = append(out, t)
	}
	return out
}

func (e *Engine) Subscribe(topicARN, protocol, endpoint string, policy FilterPolicy, raw bool) (Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.topics[topicARN]; !ok {
		return Subscription{}, &cmn.NotFoundError{Msg: "no such topic: " + topicARN}
	}
	sub := Subscription{
		ID: fmt.Sprintf("%s:%d", topicARN, len(e.subscriptions[topicARN])+1),
		TopicARN: topicARN, Protocol: protocol, Endpoint: endpoint,
		FilterPolicy: policy, RawMessageDelivery: raw,
	}
	e.subscriptions[topicARN] = append(e.subscriptions[topicARN], sub)
	return sub, nil
}

func (e *Engine) Unsubscribe(subscriptionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for arn, subs := range e.subscriptions {
		for i, s := range subs {
			if s.ID == subscriptionID {
				e.subscriptions[arn] = append(subs[:i], subs[i+1:]...)
				e.stopWorker(subscriptionID)
				return
			}
		}
	}
}

// Publish fans a message out to every matching subscription of topicARN,
// non-blocking (spec.md §4.10's dispatch discipline).
func (e *Engine) Publish(topicARN, messageID, message string, attrs map[string]MessageAttribute, timestamp string) error {
	e.mu.RLock()
	if _, ok := e.topics[topicARN]; !ok {
		e.mu.RUnlock()
		return &cmn.NotFoundError{Msg: "no such topic: " + topicARN}
	}
	subs := append([]Subscription(nil), e.subscriptions[topicARN]...)
	e.mu.RUnlock()

	for _, sub := range subs {
		if !sub.FilterPolicy.Match(attrs) {
			continue
		}
		var envelope []byte
		switch sub.Protocol {
		case "lambda":
			envelope = wrapLambdaEnvelope(topicARN, messageID, message, timestamp, attrs)
		default:
			envelope = wrapSQSEnvelope(topicARN, messageID, message, timestamp, attrs, sub.RawMessageDelivery)
		}
		e.enqueue(sub.ID, sub.Protocol, sub.Endpoint, envelope)
	}
	return nil
}

// --- Rules / targets -----------------------------------------------------

func (e *Engine) PutRule(name string, pattern map[string]interface{}, schedule string) *Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	arn := ruleARN(e.region, name)
	r, ok := e.rules[arn]
	if !ok {
		r = &Rule{ARN: arn, Name: name}
		e.rules[arn] = r
	}
	r.EventPattern = pattern
	r.ScheduleExpression = schedule
	return r
}

func (e *Engine) DeleteRule(arn string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rules[arn]; ok {
		for _, t := range r.Targets {
			e.stopWorker("target:" + arn + ":" + t.ID)
		}
	}
	delete(e.rules, arn)
}

func (e *Engine) PutTargets(ruleARN string, targets []Target) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[ruleARN]
	if !ok {
		return &cmn.NotFoundError{Msg: "no such rule: " + ruleARN}
	}
	byID := make(map[string]Target, len(r.Targets))
	for _, t := range r.Targets {
		byID[t.ID] = t
	}
	for _, t := range targets {
		byID[t.ID] = t
	}
	merged := make([]Target, 0, len(byID))
	for _, t := range byID {
		merged = append(merged, t)
	}
	r.Targets = merged
	return nil
}

func (e *Engine) RemoveTargets(ruleARN string, targetIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[ruleARN]
	if !ok {
		return &cmn.NotFoundError{Msg: "no such rule: " + ruleARN}
	}
	remove := make(map[string]bool, len(targetIDs))
	for _, id := range targetIDs {
		remove[id] = true
	}
	kept := r.Targets[:0]
	for _, t := range r.Targets {
		if remove[t.ID] {
			e.stopWorker("target:" + ruleARN + ":" + t.ID)
			continue
		}
		kept = append(kept, t)
	}
	r.Targets = kept
	return nil
}

func (e *Engine) ListRules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// PutEvents matches one EventBridge-shaped event against every rule and
// dispatches to each matched rule's targets, applying InputPath /
// InputTransformer shaping per target.
func (e *Engine) PutEvents(event map[string]interface{}) {
	e.mu.RLock()
	rules := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	for _, r := range rules {
		if len(r.EventPattern) > 0 && !MatchPattern(r.EventPattern, event) {
			continue
		}
		for _, t := range r.Targets {
			payload, err := shapeTargetPayload(event, t)
			if err != nil {
				e.log.Warn("fanout: target payload shaping failed", zap.String("rule", r.ARN), zap.String("target", t.ID), zap.Error(err))
				continue
			}
			e.enqueue("target:"+r.ARN+":"+t.ID, "target", t.ARN, payload)
		}
	}
}

// PublishScheduledEvent is the seam C12's scheduler calls through: it
// builds a "Scheduled Event" envelope and enqueues it to every target of
// the rule named by ruleARN, without evaluating the rule's event
// pattern; an unknown ruleARN is ignored.
func (e *Engine) PublishScheduledEvent(ruleARN, ruleName string, firedAt time.Time) {
	event := map[string]interface{}{
		"detail-type": "Scheduled Event",
		"source":      "aws.events",
		"resources":   []interface{}{ruleARN},
		"time":        firedAt.UTC().Format(time.RFC3339),
		"detail":      map[string]interface{}{},
	}
	e.mu.RLock()
	r, ok := e.rules[ruleARN]
	e.mu.RUnlock()
	if !ok {
		return
	}
	for _, t := range r.Targets {
		payload, err := shapeTargetPayload(event, t)
		if err != nil {
			e.log.Warn("fanout: scheduled event shaping failed", zap.String("rule", ruleARN), zap.Error(err))
			continue
		}
		e.enqueue("target:"+ruleARN+":"+t.ID, "target", t.ARN, payload)
	}
}

// --- dispatch --------------------------------------------------------

func (e *Engine) enqueue(key, protocol, endpoint string, envelope []byte) {
	w := e.workerFor(key)
	select {
	case w.ch <- job{protocol: protocol, endpoint: endpoint, envelope: envelope}:
	default:
		e.log.Warn("fanout: dispatch channel full, dropping", zap.String("key", key))
	}
}

func (e *Engine) workerFor(key string) *worker {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if w, ok := e.workers[key]; ok {
		return w
	}
	w := &worker{ch: make(chan job, dispatchQueueDepth)}
	e.workers[key] = w
	e.wg.Add(1)
	go e.runWorker(w)
	return w
}

func (e *Engine) stopWorker(key string) {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if w, ok := e.workers[key]; ok {
		close(w.ch)
		delete(e.workers, key)
	}
}

func (e *Engine) runWorker(w *worker) {
	defer e.wg.Done()
	for {
		select {
		case j, ok := <-w.ch:
			if !ok {
				return
			}
			e.deliverWithRetry(j)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) deliverWithRetry(j job) {
	if e.deliver == nil {
		return
	}
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-e.ctx.Done():
				return
			}
		}
		if err := e.deliver.Deliver(e.ctx, j.protocol, j.endpoint, j.envelope); err != nil {
			lastErr = err
			continue
		}
		return
	}
	e.log.Warn("fanout: delivery failed after retries, dropping", zap.String("endpoint", j.endpoint), zap.Error(lastErr))
}
