package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

type recordingPublisher struct {
	mu    sync.Mutex
	fired []string
}

func (p *recordingPublisher) PublishScheduledEvent(ruleARN, ruleName string, firedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fired = append(p.fired, ruleARN)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fired)
}

func TestParse_RateExpression(t *testing.T) {
	g := NewWithT(t)
	e, err := Parse("rate(5 minutes)")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(e.Rate).NotTo(BeNil())
	next := e.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	g.Expect(next).To(Equal(time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)))
}

func TestParse_CronExpressionEveryMinute(t *testing.T) {
	g := NewWithT(t)
	e, err := Parse("cron(* * * * ? *)")
	g.Expect(err).NotTo(HaveOccurred())
	after := time.Date(2024, 1, 1, 10, 30, 15, 0, time.UTC)
	next := e.Next(after)
	g.Expect(next).To(Equal(time.Date(2024, 1, 1, 10, 31, 0, 0, time.UTC)))
}

func TestParse_CronExpressionSpecificHourAndMinute(t *testing.T) {
	g := NewWithT(t)
	e, err := Parse("cron(0 12 * * ? *)")
	g.Expect(err).NotTo(HaveOccurred())
	after := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	next := e.Next(after)
	g.Expect(next).To(Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))

	afterNoon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	next2 := e.Next(afterNoon)
	g.Expect(next2).To(Equal(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)))
}

func TestParse_CronExpressionDayOfWeekName(t *testing.T) {
	g := NewWithT(t)
	e, err := Parse("cron(0 9 ? * MON *)")
	g.Expect(err).NotTo(HaveOccurred())
	// 2024-01-01 is a Monday.
	after := time.Date(2024, 1, 1, 9, 0, 1, 0, time.UTC)
	next := e.Next(after)
	g.Expect(next.Weekday()).To(Equal(time.Monday))
	g.Expect(next.After(after)).To(BeTrue())
}

func TestParse_RejectsUnrecognizedExpression(t *testing.T) {
	g := NewWithT(t)
	_, err := Parse("every 5 minutes")
	g.Expect(err).To(HaveOccurred())
}

func TestEngine_FiresRuleAtScheduledTime(t *testing.T) {
	g := NewWithT(t)
	pub := &recordingPublisher{}
	e := NewEngine(pub, nil)
	g.Expect(e.PutSchedule("arn:rule1", "rule1", "rate(1 minute)")).To(Succeed())

	// Force an immediate fire by rewinding the entry's next-fire time.
	e.mu.Lock()
	e.heap[0].nextFire = time.Now().Add(10 * time.Millisecond)
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	g.Eventually(pub.count, "2s", "20ms").Should(BeNumerically(">=", 1))
}

func TestEngine_RemoveScheduleStopsFiring(t *testing.T) {
	g := NewWithT(t)
	pub := &recordingPublisher{}
	e := NewEngine(pub, nil)
	g.Expect(e.PutSchedule("arn:rule1", "rule1", "rate(1 minute)")).To(Succeed())
	e.RemoveSchedule("arn:rule1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	g.Consistently(pub.count, "100ms", "20ms").Should(Equal(0))
}
