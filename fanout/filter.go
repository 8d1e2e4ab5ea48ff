package fanout

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FilterPolicy is SNS's filter-policy shape: attribute name -> list of
// matchers, ANY of which must match the attribute's value for that
// attribute to be satisfied; ALL attributes in the policy must be
// satisfied for the policy to match (spec.md §4.10).
type FilterPolicy map[string][]FilterMatcher

// FilterMatcher is one matcher in a filter-policy attribute's list. Only
// one of its fields is ever set; UnmarshalJSON picks which based on the
// matcher's shape.
type FilterMatcher struct {
	Exact       *string
	Numeric     *NumericMatcher
	Prefix      *string
	AnythingBut []string
	Exists      *bool
}

type NumericMatcher struct {
	Op    string
	Value float64
}

func (m *FilterMatcher) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.Exact = &s
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("filter matcher must be a string or object: %w", err)
	}

	switch {
	case obj["numeric"] != nil:
		var arr []interface{}
		if err := json.Unmarshal(obj["numeric"], &arr); err != nil || len(arr) != 2 {
			return fmt.Errorf("numeric matcher requires [op, value]")
		}
		op, _ := arr[0].(string)
		val, _ := arr[1].(float64)
		m.Numeric = &NumericMatcher{Op: op, Value: val}
	case obj["prefix"] != nil:
		var p string
		if err := json.Unmarshal(obj["prefix"], &p); err != nil {
			return err
		}
		m.Prefix = &p
	case obj["anything-but"] != nil:
		var ab []string
		if err := json.Unmarshal(obj["anything-but"], &ab); err != nil {
			return err
		}
		m.AnythingBut = ab
	case obj["exists"] != nil:
		var e bool
		if err := json.Unmarshal(obj["exists"], &e); err != nil {
			return err
		}
		m.Exists = &e
	default:
		return fmt.Errorf("unrecognized filter matcher shape")
	}
	return nil
}

// Match reports whether every attribute named in the policy is satisfied
// by attrs. An attribute is satisfied when at least one of its matchers
// evaluates true; `exists` matchers are the one kind evaluated whether or
// not the attribute is present (absence is itself the outcome they test).
func (p FilterPolicy) Match(attrs map[string]MessageAttribute) bool {
	for name, matchers := range p {
		attr, present := attrs[name]
		satisfied := false
		for _, m := range matchers {
			if m.Exists != nil {
				if *m.Exists == present {
					satisfied = true
				}
				continue
			}
			if !present {
				continue
			}
			if m.matchValue(attr.Value) {
				satisfied = true
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

func (m FilterMatcher) matchValue(val string) bool {
	switch {
	case m.Exact != nil:
		return val == *m.Exact
	case m.Numeric != nil:
		fv, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return false
		}
		return numericMatch(m.Numeric.Op, fv, m.Numeric.Value)
	case m.Prefix != nil:
		return strings.HasPrefix(val, *m.Prefix)
	case m.AnythingBut != nil:
		for _, v := range m.AnythingBut {
			if v == val {
				return false
			}
		}
		return true
	}
	return false
}

func numericMatch(op string, v, target float64) bool {
	switch op {
	case "=":
		return v == target
	case "<":
		return v < target
	case "<=":
		return v <= target
	case ">":
		return v > target
	case ">=":
		return v >= target
	default:
		return false
	}
}
