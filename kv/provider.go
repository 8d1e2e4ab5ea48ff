package kv

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/middleware"
)

// Provider wires an Engine to a listening HTTP port behind the shared
// middleware pipeline, satisfying provider.HTTPProvider (spec.md §4.6 /
// §4.7: every service is a uniform create_{service}_app(provider, ...)
// factory mounted on the orchestrator's port-allocation scheme).
type Provider struct {
	Engine   *Engine
	Pipeline *middleware.Pipeline
	Log      *zap.Logger

	port     int
	listener net.Listener
	server   *http.Server
	healthy  atomic.Bool
	cancel   context.CancelFunc
}

func NewProvider(engine *Engine, pipeline *middleware.Pipeline, log *zap.Logger, port int) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{Engine: engine, Pipeline: pipeline, Log: log, port: port}
}

func (p *Provider) Name() string { return "dynamodb" }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) App() http.Handler {
	return p.Pipeline.Wrap(http.HandlerFunc(p.serveJSON))
}

func (p *Provider) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", portAddr(p.port))
	if err != nil {
		return err
	}
	p.listener = ln

	streamCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.Engine.RunStreams(streamCtx)

	p.server = &http.Server{Handler: p.App()}
	go func() {
		p.healthy.Store(true)
		_ = p.server.Serve(ln)
		p.healthy.Store(false)
	}()
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.server == nil {
		return nil
	}
	err := p.server.Shutdown(ctx)
	_ = p.Engine.Close()
	return err
}

func (p *Provider) Health() bool { return p.healthy.Load() }

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
