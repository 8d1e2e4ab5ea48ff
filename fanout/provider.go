package fanout

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/middleware"
)

// TopicProvider wires the Engine's SNS-shaped topic/subscription surface
// to a listening HTTP port (spec.md §4.6).
type TopicProvider struct {
	Engine   *Engine
	Pipeline *middleware.Pipeline
	Log      *zap.Logger

	port     int
	listener net.Listener
	server   *http.Server
	healthy  atomic.Bool
}

func NewTopicProvider(engine *Engine, pipeline *middleware.Pipeline, log *zap.Logger, port int) *TopicProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &TopicProvider{Engine: engine, Pipeline: pipeline, Log: log, port: port}
}

func (p *TopicProvider) Name() string { return "sns" }
func (p *TopicProvider) Port() int    { return p.port }
func (p *TopicProvider) App() http.Handler {
	return p.Pipeline.Wrap(http.HandlerFunc(p.serveSNS))
}

func (p *TopicProvider) Start(ctx context.Context) error {
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

func (p *TopicProvider) Stop(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *TopicProvider) Health() bool { return p.healthy.Load() }

// RuleProvider wires the Engine's EventBridge-shaped rule/target surface
// to its own listening HTTP port.
type RuleProvider struct {
	Engine   *Engine
	Pipeline *middleware.Pipeline
	Log      *zap.Logger

	port     int
	listener net.Listener
	server   *http.Server
	healthy  atomic.Bool
}

func NewRuleProvider(engine *Engine, pipeline *middleware.Pipeline, log *zap.Logger, port int) *RuleProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &RuleProvider{Engine: engine, Pipeline: pipeline, Log: log, port: port}
}

func (p *RuleProvider) Name() string { return "events" }
func (p *RuleProvider) Port() int    { return p.port }
func (p *RuleProvider) App() http.Handler {
	return p.Pipeline.Wrap(http.HandlerFunc(p.serveEvents))
}

func (p *RuleProvider) Start(ctx context.Context) error {
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

func (p *RuleProvider) Stop(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *RuleProvider) Health() bool { return p.healthy.Load() }

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
