package scheduler

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Provider satisfies the plain (non-HTTP) provider.Provider contract:
// the scheduler has no wire surface of its own — rules reach it only
// through Engine.PutSchedule; the EventBridge PutRule handler stores a
// rule's ScheduleExpression without calling it — so it only needs the
// lifecycle methods, the case provider.Provider's own doc comment calls
// out explicitly (spec.md §4.6).
type Provider struct {
	Engine *Engine
	Log    *zap.Logger

	cancel  context.CancelFunc
	healthy atomic.Bool
}

func NewProvider(engine *Engine, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{Engine: engine, Log: log}
}

func (p *Provider) Name() string { return "scheduler" }

func (p *Provider) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go func() {
		p.healthy.Store(true)
		p.Engine.Run(runCtx)
		p.healthy.Store(false)
	}()
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func (p *Provider) Health() bool { return p.healthy.Load() }
