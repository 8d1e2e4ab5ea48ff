package iam

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	EffectAllow = "Allow"
	EffectDeny  = "Deny"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Allow  bool
	Reason string
}

// Store composes the identity store, permissions map, and resource
// policy store behind the single evaluate() entry point the middleware
// pipeline calls, per spec.md §4.1.
type Store struct {
	Identities *IdentityStore
	Perms      *PermissionsMap
	Resources  *ResourcePolicyStore
	// Managed holds the bundled/registered managed-policy documents an
	// identity's ManagedPolicyARNs resolve against.
	Managed map[string]PolicyDocument
}

// New wires a Store from its three parts; Managed starts empty and is
// populated via RegisterManagedPolicy (management plane or startup
// bundle).
func New(identities *IdentityStore, perms *PermissionsMap, resources *ResourcePolicyStore) *Store {
	return &Store{Identities: identities, Perms: perms, Resources: resources, Managed: map[string]PolicyDocument{}}
}

func (s *Store) RegisterManagedPolicy(arn string, doc PolicyDocument) {
	s.Managed[arn] = doc
}

// Evaluate determines whether identityName may perform service.operation
// against resourceID. mode is one of IAMDisabled/IAMAudit/IAMEnforce
// (cmn.IAM* constants, passed as plain strings here to avoid an import
// cycle with cmn).
func (s *Store) Evaluate(mode, identityName, service, operation, resourceID string) Decision {
	if mode == "disabled" {
		return Decision{Allow: true}
	}
	requiredActions, known := s.Perms.Required(service, operation)
	if !known || len(requiredActions) == 0 {
		return Decision{Allow: true, Reason: "unmapped operation, allowed through"}
	}

	identity, ok := s.Identities.Get(identityName)
	if !ok {
		if mode == "audit" {
			return Decision{Allow: true, Reason: fmt.Sprintf("audit: unknown identity %q", identityName)}
		}
		return Decision{Allow: false, Reason: fmt.Sprintf("unknown identity %q", identityName)}
	}

	var stmts []Statement
	for _, doc := range identity.InlinePolicies {
		stmts = append(stmts, doc.Statements...)
	}
	for _, arn := range identity.ManagedPolicyARNs {
		if doc, ok := s.Managed[arn]; ok {
			stmts = append(stmts, doc.Statements...)
		}
	}
	if doc, ok := s.Resources.Get(service, resourceID); ok {
		stmts = append(stmts, doc.Statements...)
	}

	identityAllow, identityDeny := decide(stmts, requiredActions, resourceID)

	allowed := identityAllow && !identityDeny
	if identity.Boundary != nil {
		boundaryAllow, boundaryDeny := decide(identity.Boundary.Statements, requiredActions, resourceID)
		allowed = allowed && boundaryAllow && !boundaryDeny
	}

	if !allowed {
		reason := fmt.Sprintf("%s denied for %s on %s.%s", identityName, requiredActions, service, operation)
		if mode == "audit" {
			return Decision{Allow: true, Reason: "audit: " + reason}
		}
		return Decision{Allow: false, Reason: reason}
	}
	return Decision{Allow: true}
}

// decide reports whether every required action matches some Allow
// statement (allow) and whether any required action matches a Deny
// statement (deny). Explicit deny wins at the call site.
func decide(stmts []Statement, requiredActions []string, resourceID string) (allow, deny bool) {
	allowedActions := map[string]bool{}
	for _, action := range requiredActions {
		for _, st := range stmts {
			if !actionMatches(st, action) || !resourceMatchesAny(st.Resource, resourceID) {
				continue
			}
			switch st.Effect {
			case EffectDeny:
				deny = true
			case EffectAllow:
				allowedActions[action] = true
			}
		}
	}
	allow = true
	for _, action := range requiredActions {
		if !allowedActions[action] {
			allow = false
			break
		}
	}
	return allow, deny
}

func actionMatches(st Statement, action string) bool {
	for _, pattern := range st.Action {
		if globMatch(pattern, action) {
			return true
		}
	}
	return false
}

func resourceMatchesAny(patterns []string, resourceID string) bool {
	if len(patterns) == 0 || resourceID == "" {
		return true
	}
	for _, pattern := range patterns {
		if resourceMatch(pattern, resourceID) {
			return true
		}
	}
	return false
}

// globMatch supports the '*' wildcard anywhere in the pattern (IAM
// action matching, e.g. "dynamodb:*" or "s3:Get*").
func globMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := filepath.Match(pattern, s)
	return err == nil && ok
}

// resourceMatch supports only a trailing '*' prefix wildcard on ARNs,
// per spec.md §4.1 ("resource matching supports * suffix wildcard").
func resourceMatch(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(resource, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == resource
}
