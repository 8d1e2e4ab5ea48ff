package queue

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestEngine_SendReceiveDeleteRoundTrip(t *testing.T) {
	g := NewWithT(t)
	e := NewEngine(nil)
	cfg := e.CreateQueue("orders", false, time.Second, 0, "")

	id, err := e.SendMessage(cfg.ARN, "hello", nil, 0, "", "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(id).NotTo(BeEmpty())

	msgs, err := e.ReceiveMessage(cfg.ARN, 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(msgs).To(HaveLen(1))
	g.Expect(msgs[0].Body).To(Equal("hello"))
	g.Expect(msgs[0].ReceiptHandle).NotTo(BeEmpty())

	empty, err := e.ReceiveMessage(cfg.ARN, 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(empty).To(BeEmpty())

	g.Expect(e.DeleteMessage(cfg.ARN, msgs[0].ReceiptHandle)).To(Succeed())
	g.Expect(e.DeleteMessage(cfg.ARN, msgs[0].ReceiptHandle)).To(HaveOccurred())
}

func TestEngine_CreateQueueIsIdempotent(t *testing.T) {
	g := NewWithT(t)
	e := NewEngine(nil)
	first := e.CreateQueue("orders", false, time.Second, 0, "")
	second := e.CreateQueue("orders", false, time.Minute, 5, "arn:dlq")
	g.Expect(second.ARN).To(Equal(first.ARN))
	g.Expect(second.VisibilityTimeout).To(Equal(time.Second))
}

func TestEngine_VisibilityExpiryRequeuesMessage(t *testing.T) {
	g := NewWithT(t)
	e := NewEngine(nil)
	cfg := e.CreateQueue("orders", false, 50*time.Millisecond, 0, "")
	_, err := e.SendMessage(cfg.ARN, "hello", nil, 0, "", "")
	g.Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	first, err := e.ReceiveMessage(cfg.ARN, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(first).To(HaveLen(1))

	g.Eventually(func() int {
		msgs, _ := e.ReceiveMessage(cfg.ARN, 1)
		return len(msgs)
	}, "2s", "20ms").Should(Equal(1))
}

func TestEngine_MaxReceiveCountRoutesToDLQ(t *testing.T) {
	g := NewWithT(t)
	e := NewEngine(nil)
	dlq := e.CreateQueue("orders-dlq", false, time.Minute, 0, "")
	main := e.CreateQueue("orders", false, 30*time.Millisecond, 1, dlq.ARN)
	_, err := e.SendMessage(main.ARN, "hello", nil, 0, "", "")
	g.Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	_, err = e.ReceiveMessage(main.ARN, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Eventually(func() int {
		msgs, _ := e.ReceiveMessage(main.ARN, 1)
		return len(msgs)
	}, "1s", "10ms").Should(Equal(1))

	_, err = e.ReceiveMessage(main.ARN, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Eventually(func() int {
		msgs, _ := e.ReceiveMessage(dlq.ARN, 1)
		return len(msgs)
	}, "1s", "10ms").Should(Equal(1))
}

func TestEngine_FIFOOrdersAndLocksInFlightGroup(t *testing.T) {
	g := NewWithT(t)
	e := NewEngine(nil)
	cfg := e.CreateQueue("orders.fifo", true, time.Minute, 0, "")
	_, err := e.SendMessage(cfg.ARN, "first", nil, 0, "group-a", "dedup-1")
	g.Expect(err).NotTo(HaveOccurred())
	_, err = e.SendMessage(cfg.ARN, "second", nil, 0, "group-a", "dedup-2")
	g.Expect(err).NotTo(HaveOccurred())

	msgs, err := e.ReceiveMessage(cfg.ARN, 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(msgs).To(HaveLen(1))
	g.Expect(msgs[0].Body).To(Equal("first"))

	g.Expect(e.DeleteMessage(cfg.ARN, msgs[0].ReceiptHandle)).To(Succeed())
	msgs, err = e.ReceiveMessage(cfg.ARN, 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(msgs).To(HaveLen(1))
	g.Expect(msgs[0].Body).To(Equal("second"))
}

func TestEngine_FIFODeduplicatesWithinWindow(t *testing.T) {
	g := NewWithT(t)
	e := NewEngine(nil)
	cfg := e.CreateQueue("orders.fifo", true, time.Minute, 0, "")
	id1, err := e.SendMessage(cfg.ARN, "first", nil, 0, "group-a", "dedup-1")
	g.Expect(err).NotTo(HaveOccurred())
	id2, err := e.SendMessage(cfg.ARN, "first-dup", nil, 0, "group-a", "dedup-1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(id2).To(Equal(id1))

	msgs, err := e.ReceiveMessage(cfg.ARN, 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(msgs).To(HaveLen(1))
}

func TestEngine_ChangeMessageVisibilityExtendsDeadline(t *testing.T) {
	g := NewWithT(t)
	e := NewEngine(nil)
	cfg := e.CreateQueue("orders", false, 50*time.Millisecond, 0, "")
	_, err := e.SendMessage(cfg.ARN, "hello", nil, 0, "", "")
	g.Expect(err).NotTo(HaveOccurred())

	msgs, err := e.ReceiveMessage(cfg.ARN, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(e.ChangeMessageVisibility(cfg.ARN, msgs[0].ReceiptHandle, time.Minute)).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	g.Consistently(func() int {
		out, _ := e.ReceiveMessage(cfg.ARN, 1)
		return len(out)
	}, "200ms", "20ms").Should(Equal(0))
}
