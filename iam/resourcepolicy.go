package iam

import "sync"

// ResourcePolicyStore maps (service, resource-id) to a resource policy
// document, consulted after identity-policy evaluation (spec.md §4.1).
type ResourcePolicyStore struct {
	mu       sync.RWMutex
	policies map[string]PolicyDocument
}

func NewResourcePolicyStore() *ResourcePolicyStore {
	return &ResourcePolicyStore{policies: make(map[string]PolicyDocument)}
}

func (s *ResourcePolicyStore) Set(service, resourceID string, doc PolicyDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[key(service, resourceID)] = doc
}

func (s *ResourcePolicyStore) Get(service, resourceID string) (PolicyDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.policies[key(service, resourceID)]
	return doc, ok
}
