// Package provider defines the Provider Lifecycle contract (C6): the
// uniform start/stop/health shape every emulated service satisfies, and
// the HTTP app factory convention that composes the middleware pipeline
// identically for each of them (spec.md §4.6).
//
// This replaces aistore's duck-typed (attribute-probed) provider
// registry with a small typed capability set, per spec.md §9's redesign
// note: the orchestrator holds heterogeneous Providers behind this
// interface and queries the optional HTTPProvider capability explicitly
// rather than probing for methods at runtime.
package provider

import (
	"context"
	"net/http"
)

// Provider is the lifecycle contract every service implements.
type Provider interface {
	// Name is the service's registry key (e.g. "dynamodb", "s3").
	Name() string
	// Start binds the provider's listener, creates its stores, and
	// starts its background tasks. Start must not block past the
	// listener coming up; long-running work happens in goroutines owned
	// by the provider and torn down in Stop.
	Start(ctx context.Context) error
	// Stop drains the listener, flushes state, and cancels background
	// tasks. Stop is idempotent and safe to call without a matching
	// Start.
	Stop(ctx context.Context) error
	// Health reports whether the provider is currently serving traffic.
	Health() bool
}

// HTTPProvider is the optional capability a Provider exposes when it is
// built by an App factory and mounted on its own port (every wire-facing
// service; the Scheduler and Compute Invoker are examples of providers
// that may not need one).
type HTTPProvider interface {
	Provider
	Port() int
	App() http.Handler
}

// AppFactory is the uniform app-construction convention spec.md §4.6
// names: every service's create_{service}_app(provider, chaos?,
// iam_auth?, aws_mock?) call, expressed as a function value so the
// orchestrator composes middleware identically for every service
// without a per-service special case.
type AppFactory func(p Provider) http.Handler
