package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) onChange(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, paths)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWatcher_DetectsFileWriteWithinDebounceWindow(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	rec := &recorder{}
	w := New(dir, nil, nil, rec.onChange, nil)
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Expect(w.Start(ctx)).To(Succeed())
	defer w.Stop()

	target := filepath.Join(dir, "file.txt")
	g.Expect(os.WriteFile(target, []byte("hello"), 0o644)).To(Succeed())

	g.Eventually(rec.count, "2s", "20ms").Should(BeNumerically(">=", 1))
}

func TestWatcher_CoalescesBurstIntoOneNotification(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	rec := &recorder{}
	w := New(dir, nil, nil, rec.onChange, nil)
	w.Debounce = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Expect(w.Start(ctx)).To(Succeed())
	defer w.Stop()

	target := filepath.Join(dir, "burst.txt")
	for i := 0; i < 5; i++ {
		g.Expect(os.WriteFile(target, []byte("x"), 0o644)).To(Succeed())
		time.Sleep(10 * time.Millisecond)
	}

	g.Eventually(rec.count, "2s", "20ms").Should(Equal(1))
	g.Consistently(rec.count, "150ms", "20ms").Should(Equal(1))
}

func TestWatcher_ExcludeGlobSuppressesMatchedPaths(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	rec := &recorder{}
	w := New(dir, nil, []string{"*.log"}, rec.onChange, nil)
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Expect(w.Start(ctx)).To(Succeed())
	defer w.Stop()

	target := filepath.Join(dir, "ignored.log")
	g.Expect(os.WriteFile(target, []byte("x"), 0o644)).To(Succeed())

	g.Consistently(rec.count, "200ms", "20ms").Should(Equal(0))
}

func TestWatcher_DoubleStartIsNoOp(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	w := New(dir, nil, nil, func([]string) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Expect(w.Start(ctx)).To(Succeed())
	g.Expect(w.Start(ctx)).To(Succeed())
	w.Stop()
}

func TestWatcher_StopBeforeStartIsNoOp(t *testing.T) {
	w := New(t.TempDir(), nil, nil, func([]string) {}, nil)
	w.Stop()
}
