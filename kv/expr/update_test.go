package expr

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/cloudfleet/emulator/cmn"
)

func TestApply_SetArithmetic(t *testing.T) {
	g := NewWithT(t)
	u, err := ParseUpdate("SET score = score + :inc")
	g.Expect(err).NotTo(HaveOccurred())
	item := cmn.Item{"score": cmn.N("10")}
	e := Env{Item: item, Values: map[string]cmn.AttrValue{":inc": cmn.N("5")}}
	g.Expect(Apply(u, item, e)).To(Succeed())
	g.Expect(*item["score"].N).To(Equal("15"))
}

func TestApply_SetIfNotExistsAndListAppend(t *testing.T) {
	g := NewWithT(t)
	u, err := ParseUpdate("SET count = if_not_exists(count, :zero), tags = list_append(tags, :more)")
	g.Expect(err).NotTo(HaveOccurred())
	item := cmn.Item{"tags": cmn.L(cmn.S("a"))}
	e := Env{Item: item, Values: map[string]cmn.AttrValue{
		":zero": cmn.N("0"),
		":more": cmn.L(cmn.S("b")),
	}}
	g.Expect(Apply(u, item, e)).To(Succeed())
	g.Expect(*item["count"].N).To(Equal("0"))
	g.Expect(item["tags"].L).To(HaveLen(2))
}

func TestApply_RemoveAttributeAndAdd(t *testing.T) {
	g := NewWithT(t)
	u, err := ParseUpdate("REMOVE stale ADD hits :one")
	g.Expect(err).NotTo(HaveOccurred())
	item := cmn.Item{"stale": cmn.S("x")}
	e := Env{Item: item, Values: map[string]cmn.AttrValue{":one": cmn.N("1")}}
	g.Expect(Apply(u, item, e)).To(Succeed())
	_, ok := item["stale"]
	g.Expect(ok).To(BeFalse())
	g.Expect(*item["hits"].N).To(Equal("1"))
}

func TestApply_AddAndDeleteSets(t *testing.T) {
	g := NewWithT(t)
	u, err := ParseUpdate("ADD tags :new DELETE tags :old")
	g.Expect(err).NotTo(HaveOccurred())
	item := cmn.Item{"tags": cmn.AttrValue{SS: []string{"a", "b"}}}
	e := Env{Item: item, Values: map[string]cmn.AttrValue{
		":new": cmn.AttrValue{SS: []string{"c"}},
		":old": cmn.AttrValue{SS: []string{"a"}},
	}}
	g.Expect(Apply(u, item, e)).To(Succeed())
	g.Expect(item["tags"].SS).To(ConsistOf("b", "c"))
}
