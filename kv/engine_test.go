package kv

import (
	"context"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/cloudfleet/emulator/cmn"
)

func newTestEngine(t *testing.T) *Engine {
	return NewEngine(t.TempDir())
}

func simpleMeta(name string) TableMeta {
	return TableMeta{
		Name: name,
		KeySchema: []cmn.KeySchemaElement{
			{AttributeName: "pk", KeyType: "HASH"},
			{AttributeName: "sk", KeyType: "RANGE"},
		},
		AttrDefs: []cmn.AttrDef{
			{AttributeName: "pk", AttributeType: "S"},
			{AttributeName: "sk", AttributeType: "N"},
		},
	}
}

func TestEngine_CreateTableRejectsDuplicate(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	g.Expect(e.CreateTable(simpleMeta("orders"))).To(Succeed())
	err := e.CreateTable(simpleMeta("orders"))
	g.Expect(err).To(HaveOccurred())
	_, ok := err.(*cmn.ExistsError)
	g.Expect(ok).To(BeTrue())
}

func TestEngine_PutGetDeleteItem(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	g.Expect(e.CreateTable(simpleMeta("orders"))).To(Succeed())

	item := cmn.Item{"pk": cmn.S("u1"), "sk": cmn.N("1"), "total": cmn.N("42")}
	_, err := e.PutItem("orders", item, "", nil, nil)
	g.Expect(err).NotTo(HaveOccurred())

	got, found, err := e.GetItem("orders", cmn.Item{"pk": cmn.S("u1"), "sk": cmn.N("1")})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(found).To(BeTrue())
	g.Expect(*got["total"].N).To(Equal("42"))

	_, err = e.DeleteItem("orders", cmn.Item{"pk": cmn.S("u1"), "sk": cmn.N("1")}, "", nil, nil)
	g.Expect(err).NotTo(HaveOccurred())
	_, found, err = e.GetItem("orders", cmn.Item{"pk": cmn.S("u1"), "sk": cmn.N("1")})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(found).To(BeFalse())
}

func TestEngine_PutItemConditionFailure(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	g.Expect(e.CreateTable(simpleMeta("orders"))).To(Succeed())

	item := cmn.Item{"pk": cmn.S("u1"), "sk": cmn.N("1")}
	_, err := e.PutItem("orders", item, "attribute_not_exists(pk)", nil, nil)
	g.Expect(err).NotTo(HaveOccurred())

	_, err = e.PutItem("orders", item, "attribute_not_exists(pk)", nil, nil)
	g.Expect(err).To(HaveOccurred())
	_, ok := err.(*cmn.ConditionalCheckFailedError)
	g.Expect(ok).To(BeTrue())
}

func TestEngine_UpdateItemSetArithmeticCreatesMissingAttribute(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	g.Expect(e.CreateTable(simpleMeta("counters"))).To(Succeed())

	key := cmn.Item{"pk": cmn.S("c1"), "sk": cmn.N("1")}
	values := map[string]cmn.AttrValue{":inc": cmn.N("3"), ":zero": cmn.N("0")}
	item, err := e.UpdateItem("counters", key, "SET hits = if_not_exists(hits, :zero) + :inc", "", nil, values)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(*item["hits"].N).To(Equal("3"))

	item, err = e.UpdateItem("counters", key, "SET hits = if_not_exists(hits, :zero) + :inc", "", nil, values)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(*item["hits"].N).To(Equal("6"))
}

func TestEngine_QueryOrdersBySortKeyAndFiltersAfterLimit(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	g.Expect(e.CreateTable(simpleMeta("events"))).To(Succeed())

	for i := 1; i <= 5; i++ {
		item := cmn.Item{"pk": cmn.S("p"), "sk": cmn.N(strconv.Itoa(i)), "even": cmn.Bool(i%2 == 0)}
		_, err := e.PutItem("events", item, "", nil, nil)
		g.Expect(err).NotTo(HaveOccurred())
	}

	items, _, err := e.Query("events", "pk = :pk", nil, map[string]cmn.AttrValue{":pk": cmn.S("p")}, "", true, 0, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(items).To(HaveLen(5))
	g.Expect(*items[0]["sk"].N).To(Equal("1"))
	g.Expect(*items[4]["sk"].N).To(Equal("5"))

	values := map[string]cmn.AttrValue{":pk": cmn.S("p"), ":t": cmn.Bool(true)}
	items, lastKey, err := e.Query("events", "pk = :pk", nil, values, "even = :t", true, 3, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(items).To(HaveLen(1))
	g.Expect(*items[0]["sk"].N).To(Equal("2"))
	g.Expect(*lastKey["sk"].N).To(Equal("3"))
}

func TestEngine_ScanParallelSegmentsPartitionDeterministically(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	g.Expect(e.CreateTable(simpleMeta("events"))).To(Succeed())
	for i := 1; i <= 10; i++ {
		item := cmn.Item{"pk": cmn.S("p" + strconv.Itoa(i)), "sk": cmn.N("1")}
		_, err := e.PutItem("events", item, "", nil, nil)
		g.Expect(err).NotTo(HaveOccurred())
	}
	seg0First, _, err := e.Scan("events", "", nil, nil, 0, 2, 0, nil)
	g.Expect(err).NotTo(HaveOccurred())
	seg0Second, _, err := e.Scan("events", "", nil, nil, 0, 2, 0, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(seg0First).To(Equal(seg0Second))
}

func TestEngine_TransactWriteItemsAllOrNothing(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	g.Expect(e.CreateTable(simpleMeta("accounts"))).To(Succeed())

	key1 := cmn.Item{"pk": cmn.S("a1"), "sk": cmn.N("1")}
	key2 := cmn.Item{"pk": cmn.S("a2"), "sk": cmn.N("1")}
	_, err := e.PutItem("accounts", mergeKeyItem(key1, cmn.Item{"balance": cmn.N("100")}), "", nil, nil)
	g.Expect(err).NotTo(HaveOccurred())

	items := []TransactWriteItem{
		{Table: "accounts", Update: &TransactUpdate{Key: key1, Expression: "SET balance = balance - :amt"}},
		{Table: "accounts", Condition: &TransactCondition{Key: key2}},
	}
	exprs := []TransactExpr{
		{Values: map[string]cmn.AttrValue{":amt": cmn.N("10")}},
		{Condition: "attribute_exists(pk)", Values: nil},
	}
	err = e.TransactWriteItems(items, exprs)
	g.Expect(err).To(HaveOccurred())

	got, _, err := e.GetItem("accounts", key1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(*got["balance"].N).To(Equal("100"))
}

func TestEngine_StreamDispatchesInOrder(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine(t)
	meta := simpleMeta("orders")
	meta.Stream = StreamConfig{Enabled: true, ViewType: "NEW_IMAGE"}
	g.Expect(e.CreateTable(meta)).To(Succeed())

	var received []string
	done := make(chan struct{}, 1)
	err := e.Subscribe(context.Background(), "orders", func(ctx context.Context, rec StreamRecord) error {
		received = append(received, rec.EventName)
		if len(received) == 2 {
			done <- struct{}{}
		}
		return nil
	})
	g.Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.RunStreams(ctx)

	key := cmn.Item{"pk": cmn.S("u1"), "sk": cmn.N("1")}
	_, err = e.PutItem("orders", mergeKeyItem(key, cmn.Item{"v": cmn.N("1")}), "", nil, nil)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = e.PutItem("orders", mergeKeyItem(key, cmn.Item{"v": cmn.N("2")}), "", nil, nil)
	g.Expect(err).NotTo(HaveOccurred())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream records")
	}
	g.Expect(received).To(Equal([]string{"INSERT", "MODIFY"}))
}

func mergeKeyItem(key, rest cmn.Item) cmn.Item {
	out := cmn.Item{}
	for k, v := range key {
		out[k] = v
	}
	for k, v := range rest {
		out[k] = v
	}
	return out
}

