package compute

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func echoHandler(ctx context.Context, event map[string]interface{}, ictx InvocationContext) (map[string]interface{}, error) {
	return map[string]interface{}{"echo": event["value"], "function": ictx.FunctionName}, nil
}

func TestEngine_InvokeRoundTrip(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	_, err := reg.CreateFunction(FunctionConfig{Name: "echo", Timeout: 3}, echoHandler)
	g.Expect(err).NotTo(HaveOccurred())

	eng := NewEngine(reg, nil)
	result, err := eng.Invoke(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Error).To(BeEmpty())
	g.Expect(string(result.Payload)).To(ContainSubstring("hi"))
	g.Expect(result.RequestID).NotTo(BeEmpty())
}

func TestEngine_InvokeUnknownFunctionReturnsNotFound(t *testing.T) {
	g := NewWithT(t)
	eng := NewEngine(NewRegistry(), nil)
	_, err := eng.Invoke(context.Background(), "missing", nil)
	g.Expect(err).To(HaveOccurred())
}

func TestEngine_InvokeCapturesHandlerError(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	_, err := reg.CreateFunction(FunctionConfig{Name: "boom", Timeout: 3}, func(ctx context.Context, event map[string]interface{}, ictx InvocationContext) (map[string]interface{}, error) {
		return nil, errBoom
	})
	g.Expect(err).NotTo(HaveOccurred())

	eng := NewEngine(reg, nil)
	result, err := eng.Invoke(context.Background(), "boom", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Error).To(ContainSubstring("boom"))
}

func TestEngine_InvokeRecoversHandlerPanic(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	_, err := reg.CreateFunction(FunctionConfig{Name: "panics", Timeout: 3}, func(ctx context.Context, event map[string]interface{}, ictx InvocationContext) (map[string]interface{}, error) {
		panic("kaboom")
	})
	g.Expect(err).NotTo(HaveOccurred())

	eng := NewEngine(reg, nil)
	result, err := eng.Invoke(context.Background(), "panics", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Error).To(ContainSubstring("kaboom"))
}

func TestEngine_InvokeTimesOut(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	_, err := reg.CreateFunction(FunctionConfig{Name: "slow", Timeout: 1}, func(ctx context.Context, event map[string]interface{}, ictx InvocationContext) (map[string]interface{}, error) {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil, nil
	})
	g.Expect(err).NotTo(HaveOccurred())

	eng := NewEngine(reg, nil)
	start := time.Now()
	result, err := eng.Invoke(context.Background(), "slow", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Error).To(ContainSubstring("timed out"))
	g.Expect(time.Since(start)).To(BeNumerically("<", 3*time.Second))
}

func TestInvocationContext_RemainingTimeMillis(t *testing.T) {
	g := NewWithT(t)
	ictx := NewInvocationContext("fn", 128, 1, "req-1", "arn:fn")
	g.Expect(ictx.RemainingTimeMillis()).To(BeNumerically(">", 0))
	time.Sleep(1100 * time.Millisecond)
	g.Expect(ictx.RemainingTimeMillis()).To(Equal(int64(0)))
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
