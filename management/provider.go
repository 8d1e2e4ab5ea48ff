package management

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
)

// Provider binds Plane to the fleet port, satisfying provider.HTTPProvider
// (spec.md §4.14: "lives on the fleet port"). Unlike every other
// service, Plane.App() is mounted directly, never wrapped in a
// middleware.Pipeline — the path gate middleware.Pipeline.Wrap applies
// to every *other* service already bypasses cmn.ManagementPrefix, and
// this surface has no mock/chaos/IAM concerns of its own to apply.
type Provider struct {
	Plane *Plane
	port  int

	listener net.Listener
	server   *http.Server
	healthy  atomic.Bool
}

func NewProvider(plane *Plane, port int) *Provider {
	return &Provider{Plane: plane, port: port}
}

func (p *Provider) Name() string { return "management" }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) App() http.Handler {
	mux := http.NewServeMux()
	p.Plane.Mount(mux)
	return mux
}

func (p *Provider) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(p.port))
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
	p.Plane.markStopped()
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *Provider) Health() bool { return p.healthy.Load() }
