// Package chaos holds the per-service Chaos Config Registry (C2): a
// mutable fault-injection configuration the middleware pipeline reads
// once per request as an immutable snapshot (spec.md §4.2, §5's
// "copy-on-read snapshotting" rule), and the injector that turns a
// snapshot into the actual delay/error/reset behavior (spec.md §4.4
// step 3), grounded on the original system's mockserver/chaos.py
// weighted-roll algorithm.
package chaos

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ErrorSpec is one weighted candidate for error-rate injection.
type ErrorSpec struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Status  int     `json:"status"`
	Weight  float64 `json:"weight"`
}

// Config is one service's chaos configuration. Zero value is "disabled,
// no injection" so a freshly-registered service is chaos-free.
type Config struct {
	Enabled             bool        `json:"enabled"`
	ErrorRate           float64     `json:"error_rate"`
	LatencyMinMs        int         `json:"latency_min_ms"`
	LatencyMaxMs        int         `json:"latency_max_ms"`
	TimeoutRate         float64     `json:"timeout_rate"`
	ConnectionResetRate float64     `json:"connection_reset_rate"`
	Errors              []ErrorSpec `json:"errors"`
}

// Patch carries only the fields a PATCH-style management-plane update
// supplies; nil/zero fields are left unchanged in the target Config
// (spec.md §4.2: "merge provided fields only").
type Patch struct {
	Enabled             *bool
	ErrorRate           *float64
	LatencyMinMs        *int
	LatencyMaxMs        *int
	TimeoutRate         *float64
	ConnectionResetRate *float64
	Errors              []ErrorSpec
}

// Registry holds one Config pointer per service, swapped atomically so
// the request-path read never blocks on a writer (spec.md §5 snapshot
// rule).
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*atomic.Pointer[Config]
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*atomic.Pointer[Config])}
}

// Snapshot returns the current Config for a service; services with no
// explicit config get a disabled zero-value Config.
func (r *Registry) Snapshot(service string) Config {
	r.mu.RLock()
	ptr, ok := r.byKey[service]
	r.mu.RUnlock()
	if !ok {
		return Config{}
	}
	if c := ptr.Load(); c != nil {
		return *c
	}
	return Config{}
}

// All returns every service's current snapshot, for the management
// plane's GET /_ldk/chaos.
func (r *Registry) All() map[string]Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Config, len(r.byKey))
	for svc, ptr := range r.byKey {
		if c := ptr.Load(); c != nil {
			out[svc] = *c
		}
	}
	return out
}

// Set replaces a service's config outright.
func (r *Registry) Set(service string, cfg Config) {
	r.mu.Lock()
	ptr, ok := r.byKey[service]
	if !ok {
		ptr = atomic.NewPointer[Config](nil)
		r.byKey[service] = ptr
	}
	r.mu.Unlock()
	c := cfg
	ptr.Store(&c)
}

// Merge applies a Patch over the current config, publishing a new
// snapshot (copy-on-write; never mutates the struct a concurrent reader
// may hold a pointer to).
func (r *Registry) Merge(service string, p Patch) Config {
	cur := r.Snapshot(service)
	if p.Enabled != nil {
		cur.Enabled = *p.Enabled
	}
	if p.ErrorRate != nil {
		cur.ErrorRate = *p.ErrorRate
	}
	if p.LatencyMinMs != nil {
		cur.LatencyMinMs = *p.LatencyMinMs
	}
	if p.LatencyMaxMs != nil {
		cur.LatencyMaxMs = *p.LatencyMaxMs
	}
	if p.TimeoutRate != nil {
		cur.TimeoutRate = *p.TimeoutRate
	}
	if p.ConnectionResetRate != nil {
		cur.ConnectionResetRate = *p.ConnectionResetRate
	}
	if p.Errors != nil {
		cur.Errors = p.Errors
	}
	r.Set(service, cur)
	return cur
}

// Outcome describes what the injector decided to do with a request.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeReset
	OutcomeTimeout
	OutcomeError
)

// Result is the injector's verdict: an Outcome plus the ErrorSpec picked
// (OutcomeError only) and the latency already slept (always, even on
// OutcomeNone, since latency injection is independent of the others).
type Result struct {
	Outcome Outcome
	Error   ErrorSpec
	Slept   time.Duration
}

// Decide applies spec.md §4.4 step 3's ordered chaos checks against a
// snapshot, sleeping for latency/timeout as a side effect so callers get
// a single blocking call. rnd is injected for deterministic tests.
func Decide(cfg Config, rnd *rand.Rand, sleep func(time.Duration)) Result {
	if !cfg.Enabled {
		return Result{Outcome: OutcomeNone}
	}
	if cfg.ConnectionResetRate > 0 && rnd.Float64() < cfg.ConnectionResetRate {
		return Result{Outcome: OutcomeReset}
	}
	if cfg.TimeoutRate > 0 && rnd.Float64() < cfg.TimeoutRate {
		d := 300 * time.Second
		sleep(d)
		return Result{Outcome: OutcomeTimeout, Slept: d}
	}
	var slept time.Duration
	if cfg.LatencyMaxMs > 0 {
		lo, hi := cfg.LatencyMinMs, cfg.LatencyMaxMs
		if hi < lo {
			hi = lo
		}
		ms := lo
		if hi > lo {
			ms = lo + rnd.Intn(hi-lo+1)
		}
		slept = time.Duration(ms) * time.Millisecond
		sleep(slept)
	}
	if cfg.ErrorRate > 0 && rnd.Float64() < cfg.ErrorRate {
		spec, ok := pickWeighted(cfg.Errors, rnd)
		if ok {
			return Result{Outcome: OutcomeError, Error: spec, Slept: slept}
		}
	}
	return Result{Outcome: OutcomeNone, Slept: slept}
}

// pickWeighted performs the cumulative-weight roll from the original
// system's mockserver/chaos.py _pick_error_status.
func pickWeighted(specs []ErrorSpec, rnd *rand.Rand) (ErrorSpec, bool) {
	if len(specs) == 0 {
		return ErrorSpec{}, false
	}
	roll := rnd.Float64()
	var cumulative float64
	for _, sp := range specs {
		cumulative += sp.Weight
		if roll < cumulative {
			return sp, true
		}
	}
	return specs[len(specs)-1], true
}
