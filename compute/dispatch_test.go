package compute

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"
)

func TestFanoutDeliver_InvokesBoundFunction(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	_, err := reg.CreateFunction(FunctionConfig{Name: "on-event", Timeout: 3}, echoHandler)
	g.Expect(err).NotTo(HaveOccurred())
	eng := NewEngine(reg, nil)
	deliver := NewFanoutDeliver(eng, nil)

	err = deliver.Deliver(context.Background(), "lambda", "on-event", []byte(`{"value":"x"}`))
	g.Expect(err).NotTo(HaveOccurred())
}

func TestFanoutDeliver_RejectsNonLambdaProtocol(t *testing.T) {
	g := NewWithT(t)
	deliver := NewFanoutDeliver(NewEngine(NewRegistry(), nil), nil)
	err := deliver.Deliver(context.Background(), "sqs", "some-queue", []byte(`{}`))
	g.Expect(err).To(HaveOccurred())
}

func TestObjectNotifier_ExtractsFunctionNameFromARN(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	_, err := reg.CreateFunction(FunctionConfig{Name: "on-put", Timeout: 3}, echoHandler)
	g.Expect(err).NotTo(HaveOccurred())
	eng := NewEngine(reg, nil)
	notifier := NewObjectNotifier(eng, nil)

	arn := functionARN("on-put")
	err = notifier.Notify(context.Background(), arn, []byte(`{"value":"y"}`))
	g.Expect(err).NotTo(HaveOccurred())
}

func TestEventSourceMapping_InvokesAndDeletesOnSuccess(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	_, err := reg.CreateFunction(FunctionConfig{Name: "consumer", Timeout: 3}, echoHandler)
	g.Expect(err).NotTo(HaveOccurred())
	eng := NewEngine(reg, nil)

	src := &fakeQueueSource{messages: []QueueMessage{{Body: `{"value":"z"}`, ReceiptHandle: "rh-1"}}}
	mapping := NewEventSourceMapping(src, eng, "arn:queue", "consumer", nil)
	mapping.poll(context.Background())

	g.Expect(src.deleted).To(ConsistOf("rh-1"))
}

type fakeQueueSource struct {
	messages []QueueMessage
	deleted  []string
}

func (f *fakeQueueSource) ReceiveMessage(queueARN string, max int) ([]QueueMessage, error) {
	return f.messages, nil
}

func (f *fakeQueueSource) DeleteMessage(queueARN, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}
