package kv

import (
	"sync"

	"github.com/cloudfleet/emulator/cmn"
)

// TransactWriteItem is one member of a TransactWriteItems call: exactly
// one of Put/Delete/Update/ConditionCheck is populated, matching the
// AWS request shape.
type TransactWriteItem struct {
	Table     string
	Put       *cmn.Item
	Delete    cmn.Item // key
	Update    *TransactUpdate
	Condition *TransactCondition // ConditionCheck-only member
}

type TransactUpdate struct {
	Key        cmn.Item
	Expression string
}

type TransactCondition struct {
	Key cmn.Item
}

// TransactExpr carries the condition expression plus its name/value
// substitutions for one transaction member; DynamoDB lets every member
// (Put/Delete/Update/ConditionCheck) carry its own condition.
type TransactExpr struct {
	Condition string
	Names     map[string]string
	Values    map[string]cmn.AttrValue
}

// transactMu serializes all TransactWriteItems calls across the engine:
// spec.md §4.8 requires all-or-nothing success with no partial effects,
// which this implementation achieves by validating every member's
// condition against a consistent snapshot before applying any writes,
// under a single engine-wide lock so no other writer can invalidate that
// snapshot in between.
var transactMu sync.Mutex

// TransactWriteItems validates every member's condition (if any) against
// the current state, then applies every member; on any condition
// failure it aborts without writing anything and returns per-entry
// reasons.
func (e *Engine) TransactWriteItems(items []TransactWriteItem, exprs []TransactExpr) error {
	transactMu.Lock()
	defer transactMu.Unlock()

	reasons := make([]string, len(items))
	failed := false
	for i, it := range items {
		t, err := e.table(it.Table)
		if err != nil {
			reasons[i] = err.Error()
			failed = true
			continue
		}
		key := transactKey(it, t.meta)
		prior, _, err := t.getRaw(key)
		if err != nil {
			reasons[i] = err.Error()
			failed = true
			continue
		}
		cond := exprs[i].Condition
		if cond == "" {
			reasons[i] = "None"
			continue
		}
		ok, err := evalCondition(cond, prior, exprs[i].Names, exprs[i].Values)
		if err != nil {
			reasons[i] = err.Error()
			failed = true
			continue
		}
		if !ok {
			reasons[i] = "ConditionalCheckFailed"
			failed = true
			continue
		}
		reasons[i] = "None"
	}
	if failed {
		return &transactCanceledError{Reasons: reasons}
	}

	for i, it := range items {
		t, _ := e.table(it.Table)
		switch {
		case it.Put != nil:
			key := t.meta.keyOf(*it.Put)
			prior, found, _ := t.getRaw(key)
			if err := t.putRaw(key, *it.Put); err != nil {
				return err
			}
			eventName := "INSERT"
			if found {
				eventName = "MODIFY"
			}
			e.emit(t, eventName, key, *it.Put, prior)
		case it.Delete != nil:
			prior, found, _ := t.getRaw(it.Delete)
			if found {
				if err := t.deleteRaw(it.Delete); err != nil {
					return err
				}
				e.emit(t, "REMOVE", it.Delete, nil, prior)
			}
		case it.Update != nil:
			if _, err := e.UpdateItem(it.Table, it.Update.Key, it.Update.Expression, "", exprs[i].Names, exprs[i].Values); err != nil {
				return err
			}
		}
	}
	return nil
}

func transactKey(it TransactWriteItem, meta TableMeta) cmn.Item {
	switch {
	case it.Put != nil:
		return meta.keyOf(*it.Put)
	case it.Delete != nil:
		return it.Delete
	case it.Update != nil:
		return it.Update.Key
	case it.Condition != nil:
		return it.Condition.Key
	}
	return nil
}

type transactCanceledError struct{ Reasons []string }

func (e *transactCanceledError) Error() string { return "TransactionCanceledException" }

// TransactGetItems reads a batch of (table, key) pairs as a point-in-time
// consistent snapshot (single-process, so "consistent" reduces to taking
// the engine's transaction lock for the duration of the read).
func (e *Engine) TransactGetItems(gets []struct {
	Table string
	Key   cmn.Item
}) ([]cmn.Item, error) {
	transactMu.Lock()
	defer transactMu.Unlock()
	out := make([]cmn.Item, len(gets))
	for i, g := range gets {
		t, err := e.table(g.Table)
		if err != nil {
			return nil, err
		}
		item, found, err := t.getRaw(g.Key)
		if err != nil {
			return nil, err
		}
		if found {
			out[i] = item
		}
	}
	return out, nil
}

// BatchGetItem reads multiple keys, possibly across tables, independent
// of one another (no transactional semantics, unlike TransactGetItems).
func (e *Engine) BatchGetItem(requests map[string][]cmn.Item) (map[string][]cmn.Item, error) {
	out := make(map[string][]cmn.Item, len(requests))
	for tableName, keys := range requests {
		t, err := e.table(tableName)
		if err != nil {
			return nil, err
		}
		var items []cmn.Item
		for _, key := range keys {
			item, found, err := t.getRaw(key)
			if err != nil {
				return nil, err
			}
			if found {
				items = append(items, item)
			}
		}
		out[tableName] = items
	}
	return out, nil
}

// BatchWriteItemOp is one put-or-delete member of a BatchWriteItem call.
type BatchWriteItemOp struct {
	Table  string
	Put    cmn.Item
	Delete cmn.Item // key; nil if this op is a Put
	IsPut  bool
}

// BatchWriteItem applies each op independently (unlike
// TransactWriteItems, a single op's failure does not abort the others);
// it returns the ops that could not be applied as "unprocessed items".
func (e *Engine) BatchWriteItem(ops []BatchWriteItemOp) ([]BatchWriteItemOp, error) {
	var unprocessed []BatchWriteItemOp
	for _, op := range ops {
		t, err := e.table(op.Table)
		if err != nil {
			unprocessed = append(unprocessed, op)
			continue
		}
		t.mu.Lock()
		if op.IsPut {
			key := t.meta.keyOf(op.Put)
			prior, found, gerr := t.getRaw(key)
			if gerr != nil {
				t.mu.Unlock()
				unprocessed = append(unprocessed, op)
				continue
			}
			if err := t.putRaw(key, op.Put); err != nil {
				t.mu.Unlock()
				unprocessed = append(unprocessed, op)
				continue
			}
			eventName := "INSERT"
			if found {
				eventName = "MODIFY"
			}
			e.emit(t, eventName, key, op.Put, prior)
		} else {
			prior, found, gerr := t.getRaw(op.Delete)
			if gerr == nil && found {
				if err := t.deleteRaw(op.Delete); err == nil {
					e.emit(t, "REMOVE", op.Delete, nil, prior)
				}
			}
		}
		t.mu.Unlock()
	}
	return unprocessed, nil
}
