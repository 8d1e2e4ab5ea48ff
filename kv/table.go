// Package kv implements the KV Engine (C8): a local, per-table store
// with DynamoDB-shaped condition/filter/update expression evaluation
// and a change-log stream (spec.md §4.8). Each table serializes writes
// through its own mutex and is backed by an embedded buntdb database,
// grounded on aistore's per-mountpath fs.FileSystem ownership pattern
// (ais/tgtbck.go): one storage handle per logical partition, not one
// shared global lock.
package kv

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/cloudfleet/emulator/cmn"
)

// GSI describes one global secondary index (spec.md §4.8 data model).
type GSI struct {
	IndexName      string                `json:"IndexName"`
	KeySchema      []cmn.KeySchemaElement `json:"KeySchema"`
	ProjectionType string                `json:"ProjectionType"` // ALL | KEYS_ONLY | INCLUDE
}

// StreamConfig describes a table's change-log configuration.
type StreamConfig struct {
	Enabled  bool   `json:"StreamEnabled"`
	ViewType string `json:"StreamViewType"` // NEW_IMAGE | OLD_IMAGE | NEW_AND_OLD_IMAGES | KEYS_ONLY
}

// TableMeta is a table's static description, as returned by
// DescribeTable and used to drive key/expression evaluation.
type TableMeta struct {
	Name       string                  `json:"TableName"`
	KeySchema  []cmn.KeySchemaElement  `json:"KeySchema"`
	AttrDefs   []cmn.AttrDef           `json:"AttributeDefinitions"`
	GSIs       []GSI                   `json:"GlobalSecondaryIndexes,omitempty"`
	Stream     StreamConfig            `json:"StreamSpecification,omitempty"`
}

func (t TableMeta) hashKeyName() string {
	for _, ks := range t.KeySchema {
		if ks.KeyType == "HASH" {
			return ks.AttributeName
		}
	}
	return ""
}

func (t TableMeta) rangeKeyName() (string, bool) {
	for _, ks := range t.KeySchema {
		if ks.KeyType == "RANGE" {
			return ks.AttributeName, true
		}
	}
	return "", false
}

// keyOf extracts the declared key-schema attributes from an item.
func (t TableMeta) keyOf(item cmn.Item) cmn.Item {
	key := cmn.Item{}
	for _, ks := range t.KeySchema {
		if v, ok := item[ks.AttributeName]; ok {
			key[ks.AttributeName] = v
		}
	}
	return key
}

// buntKey encodes a table's declared key into buntdb's flat string
// keyspace, partition key first so iteration order groups by partition.
func (t TableMeta) buntKey(key cmn.Item) string {
	hash := cmn.RawString(key[t.hashKeyName()])
	if rk, ok := t.rangeKeyName(); ok {
		return hash + "\x00" + cmn.RawString(key[rk])
	}
	return hash
}

// table is one open table: its metadata, its backing buntdb handle, its
// own write mutex, and its stream state.
type table struct {
	mu     sync.Mutex
	meta   TableMeta
	db     *buntdb.DB
	stream *Stream
	seq    uint64
}

func openTable(dataDir string, meta TableMeta) (*table, error) {
	path := filepath.Join(dataDir, "kv", meta.Name+".db")
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening table store for %q: %w", meta.Name, err)
	}
	t := &table{meta: meta, db: db}
	if meta.Stream.Enabled {
		t.stream = NewStream(defaultStreamCapacity)
	}
	return t, nil
}

func (t *table) close() error { return t.db.Close() }

func (t *table) getRaw(key cmn.Item) (cmn.Item, bool, error) {
	var item cmn.Item
	found := false
	err := t.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(t.meta.buntKey(key))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if jerr := json.Unmarshal([]byte(val), &item); jerr != nil {
			return jerr
		}
		found = true
		return nil
	})
	return item, found, err
}

func (t *table) putRaw(key cmn.Item, item cmn.Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return t.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(t.meta.buntKey(key), string(raw), nil)
		return err
	})
}

func (t *table) deleteRaw(key cmn.Item) error {
	return t.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(t.meta.buntKey(key))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// scanAll iterates every item in partition-then-sort order; fn returning
// false stops iteration early.
func (t *table) scanAll(fn func(item cmn.Item) bool) error {
	return t.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.Ascend("", func(key, val string) bool {
			var item cmn.Item
			if err := json.Unmarshal([]byte(val), &item); err != nil {
				iterErr = err
				return false
			}
			return fn(item)
		})
		return iterErr
	})
}
