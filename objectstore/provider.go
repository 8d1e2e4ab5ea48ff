package objectstore

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/middleware"
)

// Provider wires a Store to a listening HTTP port behind the shared
// middleware pipeline, satisfying provider.HTTPProvider (spec.md §4.6).
type Provider struct {
	Store    *Store
	Pipeline *middleware.Pipeline
	Log      *zap.Logger

	port     int
	listener net.Listener
	server   *http.Server
	healthy  atomic.Bool
}

func NewProvider(store *Store, pipeline *middleware.Pipeline, log *zap.Logger, port int) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{Store: store, Pipeline: pipeline, Log: log, port: port}
}

func (p *Provider) Name() string { return "s3" }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) App() http.Handler {
	return p.Pipeline.Wrap(http.HandlerFunc(p.serveS3))
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

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
