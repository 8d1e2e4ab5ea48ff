package expr

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/cloudfleet/emulator/cmn"
)

func env(item cmn.Item, values map[string]cmn.AttrValue) Env {
	return Env{Item: item, Names: map[string]string{"#status": "status"}, Values: values}
}

func TestEval_SimpleComparison(t *testing.T) {
	g := NewWithT(t)
	node, err := ParseCondition("age = :val")
	g.Expect(err).NotTo(HaveOccurred())
	e := env(cmn.Item{"age": cmn.N("30")}, map[string]cmn.AttrValue{":val": cmn.N("30")})
	g.Expect(Eval(node, e)).To(BeTrue())
}

func TestEval_NameRefAndNotEqual(t *testing.T) {
	g := NewWithT(t)
	node, err := ParseCondition("#status <> :val")
	g.Expect(err).NotTo(HaveOccurred())
	e := env(cmn.Item{"status": cmn.S("active")}, map[string]cmn.AttrValue{":val": cmn.S("inactive")})
	g.Expect(Eval(node, e)).To(BeTrue())
}

func TestEval_AndOrNot(t *testing.T) {
	g := NewWithT(t)
	node, err := ParseCondition("a = :x AND b = :y OR NOT c = :z")
	g.Expect(err).NotTo(HaveOccurred())
	values := map[string]cmn.AttrValue{":x": cmn.N("1"), ":y": cmn.N("2"), ":z": cmn.N("99")}
	e := env(cmn.Item{"a": cmn.N("1"), "b": cmn.N("2"), "c": cmn.N("3")}, values)
	g.Expect(Eval(node, e)).To(BeTrue())
}

func TestEval_BetweenAndIn(t *testing.T) {
	g := NewWithT(t)
	between, err := ParseCondition("age BETWEEN :lo AND :hi")
	g.Expect(err).NotTo(HaveOccurred())
	values := map[string]cmn.AttrValue{":lo": cmn.N("10"), ":hi": cmn.N("40")}
	e := env(cmn.Item{"age": cmn.N("30")}, values)
	g.Expect(Eval(between, e)).To(BeTrue())

	in, err := ParseCondition("status IN (:a, :b, :c)")
	g.Expect(err).NotTo(HaveOccurred())
	values = map[string]cmn.AttrValue{":a": cmn.S("x"), ":b": cmn.S("y"), ":c": cmn.S("z")}
	e = env(cmn.Item{"status": cmn.S("y")}, values)
	g.Expect(Eval(in, e)).To(BeTrue())
}

func TestEval_Functions(t *testing.T) {
	g := NewWithT(t)
	item := cmn.Item{"name": cmn.S("hello-world"), "tags": cmn.AttrValue{SS: []string{"a", "b"}}}

	exists, err := ParseCondition("attribute_exists(name)")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(Eval(exists, env(item, nil))).To(BeTrue())

	notExists, err := ParseCondition("attribute_not_exists(missing)")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(Eval(notExists, env(item, nil))).To(BeTrue())

	begins, err := ParseCondition("begins_with(name, :p)")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(Eval(begins, env(item, map[string]cmn.AttrValue{":p": cmn.S("hello")}))).To(BeTrue())

	contains, err := ParseCondition("contains(tags, :t)")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(Eval(contains, env(item, map[string]cmn.AttrValue{":t": cmn.S("a")}))).To(BeTrue())

	size, err := ParseCondition("size(tags) > :n")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(Eval(size, env(item, map[string]cmn.AttrValue{":n": cmn.N("1")}))).To(BeTrue())
}

func TestEval_MixedTypeComparisonIsFalseNotError(t *testing.T) {
	g := NewWithT(t)
	node, err := ParseCondition("a = :v")
	g.Expect(err).NotTo(HaveOccurred())
	e := env(cmn.Item{"a": cmn.N("1")}, map[string]cmn.AttrValue{":v": cmn.S("1")})
	g.Expect(Eval(node, e)).To(BeFalse())
}

func TestEval_NestedPath(t *testing.T) {
	g := NewWithT(t)
	node, err := ParseCondition("a.b[0].c = :v")
	g.Expect(err).NotTo(HaveOccurred())
	item := cmn.Item{
		"a": cmn.M(cmn.Item{
			"b": cmn.L(cmn.M(cmn.Item{"c": cmn.N("7")})),
		}),
	}
	e := env(item, map[string]cmn.AttrValue{":v": cmn.N("7")})
	g.Expect(Eval(node, e)).To(BeTrue())
}
