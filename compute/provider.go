package compute

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/middleware"
)

// Provider serves the compute control plane (CreateFunction/Invoke/
// UpdateFunctionCode/UpdateFunctionConfiguration/DeleteFunction/
// GetFunction/ListFunctions/CreateFunctionUrlConfig) behind the shared
// middleware pipeline, satisfying provider.HTTPProvider (spec.md §4.6).
// CodeBinding resolves a function name to its in-process Handler at
// CreateFunction/UpdateFunctionCode time; the orchestrator supplies it
// since only the orchestrator knows which Go closures back which
// configured function names (this emulator has no code-package loader).
type Provider struct {
	Registry    *Registry
	Engine      *Engine
	Pipeline    *middleware.Pipeline
	Log         *zap.Logger
	CodeBinding func(functionName string) (Handler, bool)

	port     int
	listener net.Listener
	server   *http.Server
	healthy  atomic.Bool
}

func NewProvider(registry *Registry, engine *Engine, pipeline *middleware.Pipeline, log *zap.Logger, port int, codeBinding func(string) (Handler, bool)) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if codeBinding == nil {
		codeBinding = func(string) (Handler, bool) { return nil, false }
	}
	return &Provider{Registry: registry, Engine: engine, Pipeline: pipeline, Log: log, CodeBinding: codeBinding, port: port}
}

func (p *Provider) Name() string { return "lambda" }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) App() http.Handler {
	return p.Pipeline.Wrap(http.HandlerFunc(p.serveControlPlane))
}

func (p *Provider) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", portAddr(p.port))
	if err != nil {
		return err
	}
	p.listener = ln
	p.server = &http.Server{Handler: p.App()}
	go func() {
		p.healthy.Store(true)
		_ = p.server.Serve(ln)
		p.healthy.Store(false)
	}()
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *Provider) Health() bool { return p.healthy.Load() }

func portAddr(port int) string { return ":" + strconv.Itoa(port) }
