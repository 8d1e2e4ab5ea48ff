package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

type recordedDelivery struct {
	protocol string
	endpoint string
	envelope string
}

type fakeDeliver struct {
	mu        sync.Mutex
	failUntil int
	attempts  map[string]int
	received  []recordedDelivery
}

func newFakeDeliver() *fakeDeliver {
	return &fakeDeliver{attempts: make(map[string]int)}
}

func (f *fakeDeliver) Deliver(ctx context.Context, protocol, endpoint string, envelope []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[endpoint]++
	if f.attempts[endpoint] <= f.failUntil {
		return errors.New("simulated delivery failure")
	}
	f.received = append(f.received, recordedDelivery{protocol, endpoint, string(envelope)})
	return nil
}

func (f *fakeDeliver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func (f *fakeDeliver) last() recordedDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received[len(f.received)-1]
}

func TestEngine_PublishDispatchesToMatchingSubscriptionOnly(t *testing.T) {
	g := NewWithT(t)
	d := newFakeDeliver()
	e := NewEngine(d, nil)
	defer e.Stop()

	topic := e.CreateTopic("orders")
	_, err := e.Subscribe(topic.ARN, "sqs", "queue-a", mustPolicy(t, `{"event":["shipped"]}`), false)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = e.Subscribe(topic.ARN, "sqs", "queue-b", nil, true)
	g.Expect(err).NotTo(HaveOccurred())

	err = e.Publish(topic.ARN, "m1", "hello", map[string]MessageAttribute{"event": {Value: "cancelled"}}, time.Now().Format(time.RFC3339))
	g.Expect(err).NotTo(HaveOccurred())

	g.Eventually(d.count).Should(Equal(1))
	g.Expect(d.last().endpoint).To(Equal("queue-b"))
	g.Expect(d.last().envelope).To(Equal("hello"))
}

func TestEngine_PublishWrapsNonRawSubscriptionAsNotification(t *testing.T) {
	g := NewWithT(t)
	d := newFakeDeliver()
	e := NewEngine(d, nil)
	defer e.Stop()

	topic := e.CreateTopic("orders")
	_, err := e.Subscribe(topic.ARN, "sqs", "queue-a", nil, false)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(e.Publish(topic.ARN, "m1", "hello", nil, "2024-01-01T00:00:00Z")).To(Succeed())
	g.Eventually(d.count).Should(Equal(1))

	var env snsNotification
	g.Expect(json.Unmarshal([]byte(d.last().envelope), &env)).To(Succeed())
	g.Expect(env.Type).To(Equal("Notification"))
	g.Expect(env.Message).To(Equal("hello"))
	g.Expect(env.TopicArn).To(Equal(topic.ARN))
}

func TestEngine_PublishRetriesTransientFailureThenSucceeds(t *testing.T) {
	g := NewWithT(t)
	d := newFakeDeliver()
	d.failUntil = 2
	e := NewEngine(d, nil)
	defer e.Stop()

	topic := e.CreateTopic("orders")
	_, err := e.Subscribe(topic.ARN, "sqs", "queue-a", nil, true)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(e.Publish(topic.ARN, "m1", "hello", nil, "2024-01-01T00:00:00Z")).To(Succeed())
	g.Eventually(d.count, "3s", "50ms").Should(Equal(1))
}

func TestEngine_PutEventsMatchesPatternAndAppliesInputPath(t *testing.T) {
	g := NewWithT(t)
	d := newFakeDeliver()
	e := NewEngine(d, nil)
	defer e.Stop()

	rule := e.PutRule("ec2-state", map[string]interface{}{
		"source": []interface{}{"aws.ec2"},
	}, "")
	g.Expect(e.PutTargets(rule.ARN, []Target{{ID: "t1", ARN: "fn:handler", InputPath: "$.detail.state"}})).To(Succeed())

	e.PutEvents(map[string]interface{}{
		"source":      "aws.ec2",
		"detail-type": "EC2 Instance State-change Notification",
		"detail":      map[string]interface{}{"state": "running"},
	})

	g.Eventually(d.count).Should(Equal(1))
	g.Expect(d.last().envelope).To(Equal(`"running"`))
}

func TestEngine_PutEventsAppliesInputTransformerTemplate(t *testing.T) {
	g := NewWithT(t)
	d := newFakeDeliver()
	e := NewEngine(d, nil)
	defer e.Stop()

	rule := e.PutRule("order-rule", nil, "")
	g.Expect(e.PutTargets(rule.ARN, []Target{{
		ID: "t1", ARN: "fn:handler",
		InputTransformer: &InputTransformer{
			InputPathsMap: map[string]string{"id": "$.detail.orderId"},
			InputTemplate: `{"orderId": "<id>", "handled": true}`,
		},
	}})).To(Succeed())

	e.PutEvents(map[string]interface{}{
		"source": "custom.orders",
		"detail": map[string]interface{}{"orderId": "o-123"},
	})

	g.Eventually(d.count).Should(Equal(1))
	g.Expect(d.last().envelope).To(Equal(`{"orderId": "o-123", "handled": true}`))
}

func TestEngine_PutEventsSkipsNonMatchingRule(t *testing.T) {
	g := NewWithT(t)
	d := newFakeDeliver()
	e := NewEngine(d, nil)
	defer e.Stop()

	rule := e.PutRule("only-ec2", map[string]interface{}{"source": []interface{}{"aws.ec2"}}, "")
	g.Expect(e.PutTargets(rule.ARN, []Target{{ID: "t1", ARN: "fn:handler"}})).To(Succeed())

	e.PutEvents(map[string]interface{}{"source": "custom.orders"})

	g.Consistently(d.count, "200ms", "20ms").Should(Equal(0))
}

func TestEngine_RemoveTargetsStopsDispatch(t *testing.T) {
	g := NewWithT(t)
	d := newFakeDeliver()
	e := NewEngine(d, nil)
	defer e.Stop()

	rule := e.PutRule("r1", nil, "")
	g.Expect(e.PutTargets(rule.ARN, []Target{{ID: "t1", ARN: "fn:handler"}})).To(Succeed())
	g.Expect(e.RemoveTargets(rule.ARN, []string{"t1"})).To(Succeed())

	e.PutEvents(map[string]interface{}{"source": "x"})
	g.Consistently(d.count, "200ms", "20ms").Should(Equal(0))
}
