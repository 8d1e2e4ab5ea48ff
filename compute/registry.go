package compute

import (
	"sync"
	"time"

	"github.com/cloudfleet/emulator/cmn"
)

// FunctionConfig is one registered function's control-plane metadata,
// grounded on original_source/src/lws/interfaces/compute.py's
// ComputeConfig dataclass (function_name/handler/runtime/code_path/
// timeout/memory_size/environment).
type FunctionConfig struct {
	Name        string
	Handler     string
	Runtime     string
	CodePath    string
	Timeout     int // seconds
	MemorySize  int // MB
	Environment map[string]string
	ARN         string
	LastUpdated time.Time

	// FunctionURLEnabled/AuthType mirror CreateFunctionUrlConfig, the
	// "URL fronts" spec.md §4.7's bring-up order names as needing a
	// compute reference.
	FunctionURLEnabled bool
	AuthType           string // NONE | AWS_IAM
}

func defaultTimeout() int    { return 3 }
func defaultMemorySize() int { return 128 }

// Registry holds every registered function's config plus its bound
// Handler (the in-process code body). Thread-safe: CreateFunction/
// UpdateFunctionCode/DeleteFunction run concurrently with Invoke calls.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]FunctionConfig
	handlers  map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]FunctionConfig),
		handlers:  make(map[string]Handler),
	}
}

func functionARN(name string) string {
	return "arn:aws:lambda:" + cmn.DefaultRegion + ":000000000000:function:" + name
}

// CreateFunction registers cfg and binds it to handler, the code the
// invocation contract calls through (the orchestrator supplies
// handler; this emulator has no real code-path/runtime loader).
func (r *Registry) CreateFunction(cfg FunctionConfig, handler Handler) (FunctionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.functions[cfg.Name]; exists {
		return FunctionConfig{}, &cmn.ExistsError{Msg: "function already exists: " + cfg.Name}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout()
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = defaultMemorySize()
	}
	cfg.ARN = functionARN(cfg.Name)
	cfg.LastUpdated = time.Now()
	r.functions[cfg.Name] = cfg
	r.handlers[cfg.Name] = handler
	return cfg, nil
}

func (r *Registry) UpdateFunctionCode(name string, handler Handler) (FunctionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.functions[name]
	if !ok {
		return FunctionConfig{}, &cmn.NotFoundError{Msg: "function not found: " + name}
	}
	cfg.LastUpdated = time.Now()
	r.functions[name] = cfg
	r.handlers[name] = handler
	return cfg, nil
}

func (r *Registry) UpdateFunctionConfiguration(name string, timeout, memorySize int, env map[string]string) (FunctionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.functions[name]
	if !ok {
		return FunctionConfig{}, &cmn.NotFoundError{Msg: "function not found: " + name}
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if memorySize > 0 {
		cfg.MemorySize = memorySize
	}
	if env != nil {
		cfg.Environment = env
	}
	cfg.LastUpdated = time.Now()
	r.functions[name] = cfg
	return cfg, nil
}

func (r *Registry) DeleteFunction(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.functions[name]; !ok {
		return &cmn.NotFoundError{Msg: "function not found: " + name}
	}
	delete(r.functions, name)
	delete(r.handlers, name)
	return nil
}

func (r *Registry) Get(name string) (FunctionConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.functions[name]
	return cfg, ok
}

func (r *Registry) List() []FunctionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FunctionConfig, 0, len(r.functions))
	for _, cfg := range r.functions {
		out = append(out, cfg)
	}
	return out
}

func (r *Registry) handlerFor(name string) (Handler, FunctionConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, FunctionConfig{}, false
	}
	return h, r.functions[name], true
}

// SetFunctionURLConfig toggles the function-url-front fields spec.md
// §4.7's bring-up order calls out ("then URL fronts (need compute)").
func (r *Registry) SetFunctionURLConfig(name string, enabled bool, authType string) (FunctionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.functions[name]
	if !ok {
		return FunctionConfig{}, &cmn.NotFoundError{Msg: "function not found: " + name}
	}
	cfg.FunctionURLEnabled = enabled
	cfg.AuthType = authType
	r.functions[name] = cfg
	return cfg, nil
}
