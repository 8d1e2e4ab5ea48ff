package mock

import (
	"net/http"
	"testing"

	. "github.com/onsi/gomega"
)

func TestMatch_FirstMatchWins(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	reg.Set("dynamodb", []Rule{
		{Operation: "GetItem", Response: Response{Status: 200, Body: []byte("first")}},
		{Operation: "GetItem", Response: Response{Status: 200, Body: []byte("second")}},
	})
	rule, ok := reg.Match("dynamodb", "GetItem", http.Header{}, nil)
	g.Expect(ok).To(BeTrue())
	g.Expect(string(rule.Response.Body)).To(Equal("first"))
}

func TestMatch_HeaderMatcherCaseInsensitive(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	reg.Set("s3", []Rule{
		{Operation: "get-object", HeaderMatchers: map[string]string{"X-Test": "yes"}, Response: Response{Status: 200}},
	})
	h := http.Header{}
	h.Set("x-test", "YES")
	_, ok := reg.Match("s3", "get-object", h, nil)
	g.Expect(ok).To(BeTrue())
}

func TestEvaluateOperator_Exists(t *testing.T) {
	g := NewWithT(t)
	g.Expect(EvaluateOperator("$exists", nil, false)).To(BeTrue())
	g.Expect(EvaluateOperator("$exists", "v", true)).To(BeTrue())
	g.Expect(EvaluateOperator("$exists", nil, true)).To(BeFalse())
}

func TestMatch_BodyMatcherRejectsOnMismatch(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	reg.Set("dynamodb", []Rule{
		{
			Operation:    "PutItem",
			BodyMatchers: []Matcher{{Path: "TableName", Operator: "$eq", Expected: "orders"}},
			Response:     Response{Status: 200},
		},
	})
	_, ok := reg.Match("dynamodb", "PutItem", http.Header{}, map[string]interface{}{"TableName": "users"})
	g.Expect(ok).To(BeFalse())

	_, ok = reg.Match("dynamodb", "PutItem", http.Header{}, map[string]interface{}{"TableName": "orders"})
	g.Expect(ok).To(BeTrue())
}
