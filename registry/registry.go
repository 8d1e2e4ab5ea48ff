// Package registry implements the Service Registry / Discovery (C5): an
// in-memory name -> (host, port) map used both by the management plane
// (GET /_ldk/status) and by the Compute Invoker Contract to synthesize
// child-process environment variables (spec.md §4.5 / §6).
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudfleet/emulator/cmn"
)

// Endpoint is one registered service's location.
type Endpoint struct {
	Name string
	Host string
	Port int
}

func (e Endpoint) URL() string { return fmt.Sprintf("http://%s:%d", e.Host, e.Port) }

// Registry is the thread-safe name -> Endpoint map. The orchestrator
// registers each configured service's endpoint once, while it builds
// the providers; it does not deregister them on stop.
type Registry struct {
	mu  sync.RWMutex
	svc map[string]Endpoint
}

func New() *Registry { return &Registry{svc: make(map[string]Endpoint)} }

func (r *Registry) Register(e Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.svc[e.Name] = e
}

func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.svc, name)
}

func (r *Registry) Lookup(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.svc[name]
	return e, ok
}

// All returns every registered endpoint, sorted by name for deterministic
// management-plane output.
func (r *Registry) All() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.svc))
	for _, e := range r.svc {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnvVars synthesizes the discovery environment variables a compute
// invocation's container is started with (spec.md §4.5, §6):
// LWS_ECS_{NAME}=<url> for every endpoint, plus {SERVICE}_ENDPOINT_URL
// and AWS_ENDPOINT_URL for the fleet as a whole.
func (r *Registry) EnvVars(fleetPort int) map[string]string {
	env := make(map[string]string)
	for _, e := range r.All() {
		env["LWS_ECS_"+upperUnderscore(e.Name)] = e.URL()
		env[strings.ToUpper(e.Name)+"_ENDPOINT_URL"] = e.URL()
	}
	env["AWS_ENDPOINT_URL"] = fmt.Sprintf("http://localhost:%d", fleetPort)
	env["AWS_REGION"] = cmn.DefaultRegion
	env["AWS_DEFAULT_REGION"] = cmn.DefaultRegion
	return env
}

func upperUnderscore(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
