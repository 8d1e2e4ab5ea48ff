package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/cloudfleet/emulator/cmn"
	"github.com/cloudfleet/emulator/kv/expr"
)

// Engine is the local table store: table registry, per-table mutexes,
// and the in-flight write fingerprint coordination spec.md §1 calls out
// ("at-most-once in-flight coordination per fingerprint"). One Engine
// serves every table of the emulated DynamoDB service.
type Engine struct {
	dataDir string

	mu     sync.RWMutex
	tables map[string]*table

	inflight *cuckoo.Filter // fingerprints of writes currently being applied
}

func NewEngine(dataDir string) *Engine {
	return &Engine{
		dataDir:  dataDir,
		tables:   make(map[string]*table),
		inflight: cuckoo.NewFilter(1 << 16),
	}
}

// CreateTable materializes an empty table; rejects duplicates.
func (e *Engine) CreateTable(meta TableMeta) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tables[meta.Name]; exists {
		return &cmn.ExistsError{Msg: fmt.Sprintf("table %q already exists", meta.Name)}
	}
	t, err := openTable(e.dataDir, meta)
	if err != nil {
		return err
	}
	e.tables[meta.Name] = t
	return nil
}

func (e *Engine) DeleteTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[name]
	if !ok {
		return &cmn.NotFoundError{Msg: fmt.Sprintf("table %q not found", name)}
	}
	delete(e.tables, name)
	return t.close()
}

func (e *Engine) DescribeTable(name string) (TableMeta, error) {
	t, err := e.table(name)
	if err != nil {
		return TableMeta{}, err
	}
	return t.meta, nil
}

func (e *Engine) ListTables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) table(name string) (*table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[name]
	if !ok {
		return nil, &cmn.NotFoundError{Msg: fmt.Sprintf("table %q not found", name)}
	}
	return t, nil
}

// PutItem writes item under t's serializing mutex, evaluating an
// optional condition expression first, and emits the matching stream
// event (spec.md §4.8).
func (e *Engine) PutItem(tableName string, item cmn.Item, condition string, names map[string]string, values map[string]cmn.AttrValue) (cmn.Item, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}

	release, err := e.claimFingerprint(tableName, item, t.meta.KeySchema)
	if err != nil {
		return nil, err
	}
	defer release()

	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.meta.keyOf(item)
	prior, found, err := t.getRaw(key)
	if err != nil {
		return nil, err
	}
	if condition != "" {
		if ok, err := evalCondition(condition, prior, names, values); err != nil {
			return nil, err
		} else if !ok {
			return nil, &cmn.ConditionalCheckFailedError{Msg: "the conditional request failed"}
		}
	}
	if err := t.putRaw(key, item); err != nil {
		return nil, err
	}

	eventName := "INSERT"
	if found {
		eventName = "MODIFY"
	}
	e.emit(t, eventName, key, item, prior)
	return prior, nil
}

func (e *Engine) GetItem(tableName string, key cmn.Item) (cmn.Item, bool, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getRaw(key)
}

func (e *Engine) DeleteItem(tableName string, key cmn.Item, condition string, names map[string]string, values map[string]cmn.AttrValue) (cmn.Item, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	prior, found, err := t.getRaw(key)
	if err != nil {
		return nil, err
	}
	if condition != "" {
		if ok, err := evalCondition(condition, prior, names, values); err != nil {
			return nil, err
		} else if !ok {
			return nil, &cmn.ConditionalCheckFailedError{Msg: "the conditional request failed"}
		}
	}
	if !found {
		return nil, nil
	}
	if err := t.deleteRaw(key); err != nil {
		return nil, err
	}
	e.emit(t, "REMOVE", key, nil, prior)
	return prior, nil
}

// UpdateItem applies a parsed update expression to the (possibly
// absent) item under key, creating it if necessary, per spec.md §4.8.
func (e *Engine) UpdateItem(tableName string, key cmn.Item, updateExprSrc, condition string, names map[string]string, values map[string]cmn.AttrValue) (cmn.Item, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	prior, found, err := t.getRaw(key)
	if err != nil {
		return nil, err
	}
	if condition != "" {
		if ok, err := evalCondition(condition, prior, names, values); err != nil {
			return nil, err
		} else if !ok {
			return nil, &cmn.ConditionalCheckFailedError{Msg: "the conditional request failed"}
		}
	}

	item := cmn.Item{}
	if found {
		for k, v := range prior {
			item[k] = v
		}
	} else {
		for k, v := range key {
			item[k] = v
		}
	}

	update, err := expr.ParseUpdate(updateExprSrc)
	if err != nil {
		return nil, &cmn.ValidationError{Msg: err.Error()}
	}
	env := expr.Env{Item: item, Names: names, Values: values}
	if err := expr.Apply(update, item, env); err != nil {
		return nil, &cmn.ValidationError{Msg: err.Error()}
	}

	if err := t.putRaw(key, item); err != nil {
		return nil, err
	}
	eventName := "INSERT"
	if found {
		eventName = "MODIFY"
	}
	e.emit(t, eventName, key, item, prior)
	return item, nil
}

// Query returns items matching a partition key (and optional sort-key
// condition), in sort-key order, with filter applied after limit (spec.md
// §4.8: "filter is applied after limit").
func (e *Engine) Query(tableName string, keyCondition string, names map[string]string, values map[string]cmn.AttrValue, filter string, forward bool, limit int, exclusiveStart cmn.Item) ([]cmn.Item, cmn.Item, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, nil, err
	}

	var matched []cmn.Item
	err = t.scanAll(func(item cmn.Item) bool {
		ok, kerr := evalCondition(keyCondition, item, names, values)
		if kerr == nil && ok {
			matched = append(matched, item)
		}
		return true
	})
	if err != nil {
		return nil, nil, err
	}

	rk, hasRange := t.meta.rangeKeyName()
	sort.SliceStable(matched, func(i, j int) bool {
		if !hasRange {
			return false
		}
		cmp := cmn.Compare(matched[i][rk], matched[j][rk])
		if forward {
			return cmp < 0
		}
		return cmp > 0
	})

	if exclusiveStart != nil {
		matched = skipPastExclusiveStart(matched, exclusiveStart, t.meta)
	}

	var lastKey cmn.Item
	if limit > 0 && len(matched) > limit {
		lastKey = t.meta.keyOf(matched[limit-1])
		matched = matched[:limit]
	}

	if filter != "" {
		matched = filterItems(matched, filter, names, values)
	}
	return matched, lastKey, nil
}

// Scan reads every item (optionally one parallel-scan segment),
// applying filter after item materialization.
func (e *Engine) Scan(tableName string, filter string, names map[string]string, values map[string]cmn.AttrValue, segment, totalSegments, limit int, exclusiveStart cmn.Item) ([]cmn.Item, cmn.Item, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, nil, err
	}

	hashKey := t.meta.hashKeyName()
	var all []cmn.Item
	err = t.scanAll(func(item cmn.Item) bool {
		if totalSegments > 1 {
			if segmentOf(item, hashKey, totalSegments) != segment {
				return true
			}
		}
		all = append(all, item)
		return true
	})
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		return t.meta.buntKey(t.meta.keyOf(all[i])) < t.meta.buntKey(t.meta.keyOf(all[j]))
	})

	if exclusiveStart != nil {
		all = skipPastExclusiveStart(all, exclusiveStart, t.meta)
	}

	var lastKey cmn.Item
	if limit > 0 && len(all) > limit {
		lastKey = t.meta.keyOf(all[limit-1])
		all = all[:limit]
	}

	if filter != "" {
		all = filterItems(all, filter, names, values)
	}
	return all, lastKey, nil
}

// segmentOf hashes an item's partition-key value with xxhash to assign
// it to one of totalSegments parallel-scan segments (spec.md §4.8).
func segmentOf(item cmn.Item, hashKeyName string, totalSegments int) int {
	raw := cmn.RawString(item[hashKeyName])
	sum := xxhash.Checksum64([]byte(raw))
	return int(sum % uint64(totalSegments))
}

func skipPastExclusiveStart(items []cmn.Item, exclusiveStart cmn.Item, meta TableMeta) []cmn.Item {
	startKey := meta.buntKey(exclusiveStart)
	for i, item := range items {
		if meta.buntKey(meta.keyOf(item)) == startKey {
			return items[i+1:]
		}
	}
	return items
}

func evalCondition(source string, item cmn.Item, names map[string]string, values map[string]cmn.AttrValue) (bool, error) {
	node, err := expr.ParseCondition(source)
	if err != nil {
		return false, &cmn.ValidationError{Msg: err.Error()}
	}
	return expr.Eval(node, expr.Env{Item: item, Names: names, Values: values}), nil
}

func filterItems(items []cmn.Item, source string, names map[string]string, values map[string]cmn.AttrValue) []cmn.Item {
	node, err := expr.ParseCondition(source)
	if err != nil {
		return items
	}
	out := items[:0:0]
	for _, item := range items {
		if expr.Eval(node, expr.Env{Item: item, Names: names, Values: values}) {
			out = append(out, item)
		}
	}
	return out
}

func (e *Engine) emit(t *table, eventName string, key, newImage, oldImage cmn.Item) {
	if t.stream == nil {
		return
	}
	seq := atomic.AddUint64(&t.seq, 1)
	rec := buildStreamRecord(t.meta, seq, eventName, key, newImage, oldImage)
	t.stream.append(rec)
}

// claimFingerprint registers item's key fingerprint as in-flight for the
// duration of a write, refusing a second concurrent write to the exact
// same key (at-most-once in-flight coordination, spec.md §1). The
// cuckoo filter is probabilistic: a false positive only ever causes an
// extra ConditionalCheckFailedException on a key nothing else is
// touching, never a missed
// coordination.
func (e *Engine) claimFingerprint(tableName string, item cmn.Item, keySchema []cmn.KeySchemaElement) (func(), error) {
	fp := []byte(tableName + "/" + cmn.Fingerprint(item, keySchema))
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight.Lookup(fp) {
		return nil, &cmn.ConditionalCheckFailedError{Msg: "a write to this key is already in flight"}
	}
	e.inflight.InsertUnique(fp)
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.inflight.Delete(fp)
	}, nil
}

// Subscribe registers a stream subscriber on tableName, if the table has
// a stream enabled. It starts no dispatcher (RunStreams does) and does
// not use ctx.
func (e *Engine) Subscribe(ctx context.Context, tableName string, sub Subscriber) error {
	t, err := e.table(tableName)
	if err != nil {
		return err
	}
	if t.stream == nil {
		return &cmn.ValidationError{Msg: fmt.Sprintf("table %q has no stream configured", tableName)}
	}
	t.stream.Subscribe(sub)
	return nil
}

// RunStreams starts every configured table's stream dispatcher; call
// once at provider start.
func (e *Engine) RunStreams(ctx context.Context) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range e.tables {
		if t.stream != nil {
			go t.stream.Run(ctx)
		}
	}
}

// Close closes every open table's storage handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, t := range e.tables {
		if err := t.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reset drops every table, for the management plane's POST /_ldk/reset
// (spec.md §4.14): it closes each table's storage handle the same way
// Close does, then discards the table registry so the next CreateTable
// starts from empty.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.tables {
		_ = t.close()
	}
	e.tables = make(map[string]*table)
}
