package management

import (
	"sync"

	"github.com/cloudfleet/emulator/middleware"
)

// IAMSettingStore holds the fleet-wide IAM mode/default-identity pair
// plus a per-service enable override, the "mode + per-service enable"
// toggle spec.md §4.14's GET|POST /_ldk/iam-auth endpoint reads and
// writes. Every service's middleware.Pipeline.Setting closure reads
// through SettingFunc so a management-plane PATCH is visible to the
// very next request, matching spec.md §4.14's "mutations are applied
// atomically per service... visible to the next request" rule.
type IAMSettingStore struct {
	mu          sync.RWMutex
	mode        string
	defaultID   string
	perService  map[string]bool // service -> enabled override
}

func NewIAMSettingStore(mode, defaultIdentity string) *IAMSettingStore {
	return &IAMSettingStore{mode: mode, defaultID: defaultIdentity, perService: make(map[string]bool)}
}

// Get returns the current global mode/default-identity and a copy of
// the per-service override map, for GET /_ldk/iam-auth.
func (s *IAMSettingStore) Get() (mode, defaultIdentity string, perService map[string]bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.perService))
	for k, v := range s.perService {
		out[k] = v
	}
	return s.mode, s.defaultID, out
}

// Set replaces the global mode/default-identity; per-service overrides
// are left untouched (SetServiceEnabled manages those independently).
func (s *IAMSettingStore) Set(mode, defaultIdentity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.defaultID = defaultIdentity
}

func (s *IAMSettingStore) SetServiceEnabled(service string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perService[service] = enabled
}

// SettingFunc returns the func() middleware.IAMSetting closure a
// service's Pipeline is constructed with: it resolves mode per-request,
// honoring a per-service override of "disabled" over the global mode
// (an explicit per-service disable always wins; the global mode is the
// default for services with no override).
func (s *IAMSettingStore) SettingFunc(service string) func() middleware.IAMSetting {
	return func() middleware.IAMSetting {
		s.mu.RLock()
		defer s.mu.RUnlock()
		mode := s.mode
		if enabled, ok := s.perService[service]; ok && !enabled {
			mode = "disabled"
		}
		return middleware.IAMSetting{Mode: mode, DefaultIdentity: s.defaultID}
	}
}
