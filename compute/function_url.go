package compute

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
)

// FunctionURLProvider exposes one function as a bare HTTP endpoint on
// its own port, AWS's Function URL feature, grounded directly on
// original_source/src/lws/providers/lambda_function_url/provider.py's
// LambdaFunctionUrlProvider (one provider instance per function, its
// own port, start/stop around a bound listener). Unlike the control
// plane's JSON-1.1 X-Amz-Target dispatch, a function URL's request body
// *is* the event verbatim and the response body *is* the payload
// verbatim — no operation envelope.
type FunctionURLProvider struct {
	Engine       *Engine
	FunctionName string
	Log          *zap.Logger

	port     int
	listener net.Listener
	server   *http.Server
	healthy  atomic.Bool
}

func NewFunctionURLProvider(engine *Engine, functionName string, port int, log *zap.Logger) *FunctionURLProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &FunctionURLProvider{Engine: engine, FunctionName: functionName, port: port, Log: log}
}

func (p *FunctionURLProvider) Name() string { return "function-url:" + p.FunctionName }
func (p *FunctionURLProvider) Port() int    { return p.port }

func (p *FunctionURLProvider) App() http.Handler {
	return http.HandlerFunc(p.serve)
}

func (p *FunctionURLProvider) serve(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	event, err := unmarshalEvent(raw)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	result, err := p.Engine.Invoke(r.Context(), p.FunctionName, event)
	if err != nil {
		p.Log.Warn("function url invocation failed", zap.String("function", p.FunctionName), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if result.Error != "" {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(result.Error))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(result.Payload) > 0 {
		w.Write(result.Payload)
	}
}

func (p *FunctionURLProvider) Start(ctx context.Context) error {
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

func (p *FunctionURLProvider) Stop(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *FunctionURLProvider) Health() bool { return p.healthy.Load() }
