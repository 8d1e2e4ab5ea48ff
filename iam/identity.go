// Package iam implements the IAM-shaped Identity & Policy Store (C1):
// identities carrying inline/managed/boundary policies, a
// service+operation to required-action map, resource policies, and the
// allow/deny evaluator the middleware pipeline calls on every request.
//
// The shape is grounded on aistore's own authn package (User/Role/Token,
// bitmask-free here since IAM statements are richer than aistore's
// AccessAttrs bitmask) and on the original system's
// providers/_shared/iam_identity_store.py (YAML-sourced identities,
// runtime re-registration).
package iam

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Statement is one Allow/Deny clause of a policy document.
type Statement struct {
	Effect   string   `yaml:"effect" json:"Effect"`
	Action   []string `yaml:"action" json:"Action"`
	Resource []string `yaml:"resource" json:"Resource"`
}

// PolicyDocument is an ordered list of statements.
type PolicyDocument struct {
	Statements []Statement `yaml:"statement" json:"Statement"`
}

// Identity is a named principal: a user or role carrying inline
// policies, managed-policy references, and an optional permission
// boundary.
type Identity struct {
	Name              string           `yaml:"name"`
	Kind              string           `yaml:"type"` // user | role
	InlinePolicies    []PolicyDocument `yaml:"inline_policies"`
	ManagedPolicyARNs []string         `yaml:"policies"`
	Boundary          *PolicyDocument  `yaml:"boundary_policy"`
}

type identitiesFile struct {
	Identities map[string]Identity `yaml:"identities"`
}

// IdentityStore holds registered identities, thread-safe for the
// register_identity runtime mutation the management plane exposes.
type IdentityStore struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

// NewIdentityStore loads identities from a YAML file (if path is
// non-empty and exists); an empty store is valid and simply has no
// identities registered yet.
func NewIdentityStore(path string) (*IdentityStore, error) {
	s := &IdentityStore{identities: make(map[string]Identity)}
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading identities file %s", path)
	}
	var f identitiesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "parsing identities file %s", path)
	}
	for name, id := range f.Identities {
		id.Name = name
		if id.Kind == "" {
			id.Kind = "user"
		}
		s.identities[name] = id
	}
	return s, nil
}

// Get returns a registered identity by name.
func (s *IdentityStore) Get(name string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[name]
	return id, ok
}

// Register creates or replaces an identity at runtime (management
// plane), immutable-by-convention otherwise per spec.md §3.
func (s *IdentityStore) Register(name string, inline []PolicyDocument, boundary *PolicyDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.identities[name]
	kind := "user"
	managed := []string(nil)
	if ok {
		kind = existing.Kind
		managed = existing.ManagedPolicyARNs
	}
	s.identities[name] = Identity{
		Name:              name,
		Kind:              kind,
		InlinePolicies:    inline,
		ManagedPolicyARNs: managed,
		Boundary:          boundary,
	}
}

// Policies returns an identity's inline policy documents.
func (s *IdentityStore) Policies(name string) []PolicyDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.identities[name]; ok {
		return id.InlinePolicies
	}
	return nil
}

// Boundary returns an identity's permission boundary, if any.
func (s *IdentityStore) Boundary(name string) *PolicyDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.identities[name]; ok {
		return id.Boundary
	}
	return nil
}
