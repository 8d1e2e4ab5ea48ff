package fanout

import (
	"encoding/json"
	"testing"

	. "github.com/onsi/gomega"
)

func mustPolicy(t *testing.T, raw string) FilterPolicy {
	t.Helper()
	var p FilterPolicy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("invalid policy: %v", err)
	}
	return p
}

func TestFilterPolicy_ExactMatch(t *testing.T) {
	g := NewWithT(t)
	p := mustPolicy(t, `{"store":["example_corp"]}`)
	g.Expect(p.Match(map[string]MessageAttribute{"store": {Value: "example_corp"}})).To(BeTrue())
	g.Expect(p.Match(map[string]MessageAttribute{"store": {Value: "other"}})).To(BeFalse())
}

func TestFilterPolicy_NumericMatch(t *testing.T) {
	g := NewWithT(t)
	p := mustPolicy(t, `{"price":[{"numeric":[">=", 100]}]}`)
	g.Expect(p.Match(map[string]MessageAttribute{"price": {Value: "150"}})).To(BeTrue())
	g.Expect(p.Match(map[string]MessageAttribute{"price": {Value: "50"}})).To(BeFalse())
}

func TestFilterPolicy_PrefixMatch(t *testing.T) {
	g := NewWithT(t)
	p := mustPolicy(t, `{"path":[{"prefix":"/orders/"}]}`)
	g.Expect(p.Match(map[string]MessageAttribute{"path": {Value: "/orders/123"}})).To(BeTrue())
	g.Expect(p.Match(map[string]MessageAttribute{"path": {Value: "/carts/123"}})).To(BeFalse())
}

func TestFilterPolicy_AnythingButMatch(t *testing.T) {
	g := NewWithT(t)
	p := mustPolicy(t, `{"status":[{"anything-but":["cancelled"]}]}`)
	g.Expect(p.Match(map[string]MessageAttribute{"status": {Value: "shipped"}})).To(BeTrue())
	g.Expect(p.Match(map[string]MessageAttribute{"status": {Value: "cancelled"}})).To(BeFalse())
}

func TestFilterPolicy_ExistsTrueRequiresAttribute(t *testing.T) {
	g := NewWithT(t)
	p := mustPolicy(t, `{"tag":[{"exists":true}]}`)
	g.Expect(p.Match(map[string]MessageAttribute{"tag": {Value: "x"}})).To(BeTrue())
	g.Expect(p.Match(map[string]MessageAttribute{})).To(BeFalse())
}

func TestFilterPolicy_ExistsFalseMatchesWhenAttributeAbsent(t *testing.T) {
	g := NewWithT(t)
	p := mustPolicy(t, `{"tag":[{"exists":false}]}`)
	g.Expect(p.Match(map[string]MessageAttribute{})).To(BeTrue())
	g.Expect(p.Match(map[string]MessageAttribute{"tag": {Value: "x"}})).To(BeFalse())
}

func TestFilterPolicy_AllAttributesMustBeSatisfied(t *testing.T) {
	g := NewWithT(t)
	p := mustPolicy(t, `{"store":["example_corp"],"event":["order_placed"]}`)
	attrs := map[string]MessageAttribute{"store": {Value: "example_corp"}}
	g.Expect(p.Match(attrs)).To(BeFalse())
	attrs["event"] = MessageAttribute{Value: "order_placed"}
	g.Expect(p.Match(attrs)).To(BeTrue())
}

func TestMatchPattern_NestedDetailFiltering(t *testing.T) {
	g := NewWithT(t)
	pattern := map[string]interface{}{
		"source": []interface{}{"aws.ec2"},
		"detail": map[string]interface{}{
			"state": []interface{}{"pending", "running"},
		},
	}
	match := map[string]interface{}{
		"source": "aws.ec2",
		"detail": map[string]interface{}{"state": "running"},
	}
	g.Expect(MatchPattern(pattern, match)).To(BeTrue())

	noMatch := map[string]interface{}{
		"source": "aws.ec2",
		"detail": map[string]interface{}{"state": "terminated"},
	}
	g.Expect(MatchPattern(pattern, noMatch)).To(BeFalse())
}

func TestMatchPattern_ExistsAndPrefix(t *testing.T) {
	g := NewWithT(t)
	pattern := map[string]interface{}{
		"detail": map[string]interface{}{
			"requestID": []interface{}{map[string]interface{}{"exists": true}},
			"path":      []interface{}{map[string]interface{}{"prefix": "/api/"}},
		},
	}
	event := map[string]interface{}{
		"detail": map[string]interface{}{"requestID": "abc", "path": "/api/orders"},
	}
	g.Expect(MatchPattern(pattern, event)).To(BeTrue())
}
