package iam

import (
	"testing"

	. "github.com/onsi/gomega"
)

func newTestStore(t *testing.T) *Store {
	idStore, err := NewIdentityStore("")
	if err != nil {
		t.Fatal(err)
	}
	pm, err := NewPermissionsMap("")
	if err != nil {
		t.Fatal(err)
	}
	return New(idStore, pm, NewResourcePolicyStore())
}

func TestEvaluate_UnknownOperationAllowsThrough(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	d := s.Evaluate("enforce", "nobody", "dynamodb", "SomeFutureOp", "")
	g.Expect(d.Allow).To(BeTrue())
}

func TestEvaluate_MissingIdentityDeniedInEnforce(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	d := s.Evaluate("enforce", "ghost", "dynamodb", "PutItem", "")
	g.Expect(d.Allow).To(BeFalse())
}

func TestEvaluate_MissingIdentityAllowedInAudit(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	d := s.Evaluate("audit", "ghost", "dynamodb", "PutItem", "")
	g.Expect(d.Allow).To(BeTrue())
}

func TestEvaluate_InlineAllowGrantsAccess(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	s.Identities.Register("alice", []PolicyDocument{{
		Statements: []Statement{{Effect: EffectAllow, Action: []string{"dynamodb:*"}, Resource: []string{"*"}}},
	}}, nil)
	d := s.Evaluate("enforce", "alice", "dynamodb", "PutItem", "arn:aws:dynamodb:::table/orders")
	g.Expect(d.Allow).To(BeTrue())
}

func TestEvaluate_ExplicitDenyWinsOverAllow(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	s.Identities.Register("bob", []PolicyDocument{{
		Statements: []Statement{
			{Effect: EffectAllow, Action: []string{"dynamodb:*"}, Resource: []string{"*"}},
			{Effect: EffectDeny, Action: []string{"dynamodb:PutItem"}, Resource: []string{"*"}},
		},
	}}, nil)
	d := s.Evaluate("enforce", "bob", "dynamodb", "PutItem", "")
	g.Expect(d.Allow).To(BeFalse())
}

func TestEvaluate_BoundaryNarrowsIdentityAllow(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	boundary := &PolicyDocument{Statements: []Statement{
		{Effect: EffectAllow, Action: []string{"dynamodb:GetItem"}, Resource: []string{"*"}},
	}}
	s.Identities.Register("carol", []PolicyDocument{{
		Statements: []Statement{{Effect: EffectAllow, Action: []string{"dynamodb:*"}, Resource: []string{"*"}}},
	}}, boundary)

	// PutItem is allowed by the identity policy but not named by the
	// boundary, so the effective permission must be denied.
	d := s.Evaluate("enforce", "carol", "dynamodb", "PutItem", "")
	g.Expect(d.Allow).To(BeFalse())

	d = s.Evaluate("enforce", "carol", "dynamodb", "GetItem", "")
	g.Expect(d.Allow).To(BeTrue())
}

func TestResourceMatchSuffixWildcard(t *testing.T) {
	g := NewWithT(t)
	g.Expect(resourceMatch("arn:aws:s3:::my-bucket/*", "arn:aws:s3:::my-bucket/key1")).To(BeTrue())
	g.Expect(resourceMatch("arn:aws:s3:::my-bucket/*", "arn:aws:s3:::other/key1")).To(BeFalse())
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	g := NewWithT(t)
	ti := NewTokenIssuer("test-secret")
	tok, err := ti.Issue("alice")
	g.Expect(err).ToNot(HaveOccurred())
	name, err := ti.IdentityFromToken(tok)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(name).To(Equal("alice"))
}
