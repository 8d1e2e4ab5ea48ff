package queue

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/middleware"
)

// Provider wires the Engine to a listening HTTP port behind the shared
// middleware pipeline (spec.md §4.6) and owns the background
// visibility-expiry sweep's lifecycle.
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

func (p *Provider) Name() string { return "sqs" }
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
	p.server = &http.Server{Handler: p.App()}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.Engine.Run(runCtx)

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
	return p.server.Shutdown(ctx)
}

func (p *Provider) Health() bool { return p.healthy.Load() }

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
