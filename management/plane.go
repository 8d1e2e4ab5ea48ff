// Package management implements the Management Plane (C14): the fleet
// port's own HTTP surface for status/resources/chaos/iam-auth/reset,
// bypassed by the mock/chaos layers via the path-gate rule
// middleware.Pipeline.Wrap already applies to cmn.ManagementPrefix
// (spec.md §4.4, §4.14).
package management

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/chaos"
	"github.com/cloudfleet/emulator/cmn"
)

// ServiceStatus is one service's entry in GET /_ldk/status.
type ServiceStatus struct {
	Port    int  `json:"port"`
	Healthy bool `json:"healthy"`
}

// StatusSource is queried fresh on every GET /_ldk/status call; the
// orchestrator implements it directly over its provider registry so
// this package never imports the orchestrator (avoiding the import
// cycle a management-plane-mounting orchestrator would otherwise need).
type StatusSource interface {
	ServiceStatuses() map[string]ServiceStatus
}

// Plane is the management HTTP surface, mounted directly on the fleet
// port (it is not itself wrapped by a middleware.Pipeline; spec.md
// §4.4's path gate exists precisely so this surface reaches its
// handlers unconditionally).
type Plane struct {
	Status    StatusSource
	Chaos     *chaos.Registry
	IAM       *IAMSettingStore
	Resources func() map[string]interface{}
	Reset     func()
	Log       *zap.Logger

	mu      sync.Mutex
	running bool
}

func New(status StatusSource, chaosRegistry *chaos.Registry, iamSettings *IAMSettingStore, resources func() map[string]interface{}, reset func(), log *zap.Logger) *Plane {
	if log == nil {
		log = zap.NewNop()
	}
	if resources == nil {
		resources = func() map[string]interface{} { return map[string]interface{}{} }
	}
	if reset == nil {
		reset = func() {}
	}
	return &Plane{Status: status, Chaos: chaosRegistry, IAM: iamSettings, Resources: resources, Reset: reset, Log: log, running: true}
}

// Mount registers the management routes on mux under cmn.ManagementPrefix.
func (p *Plane) Mount(mux *http.ServeMux) {
	mux.HandleFunc(cmn.ManagementPrefix+"/status", p.handleStatus)
	mux.HandleFunc(cmn.ManagementPrefix+"/resources", p.handleResources)
	mux.HandleFunc(cmn.ManagementPrefix+"/chaos", p.handleChaos)
	mux.HandleFunc(cmn.ManagementPrefix+"/iam-auth", p.handleIAMAuth)
	mux.HandleFunc(cmn.ManagementPrefix+"/reset", p.handleReset)
}

func (p *Plane) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeManagementError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	writeManagementJSON(w, http.StatusOK, map[string]interface{}{
		"running":  running,
		"services": p.Status.ServiceStatuses(),
	})
}

func (p *Plane) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeManagementError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeManagementJSON(w, http.StatusOK, p.Resources())
}

func (p *Plane) markStopped() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}
