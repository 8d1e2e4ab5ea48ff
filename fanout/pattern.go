package fanout

import "strings"

// MatchPattern reports whether event satisfies an EventBridge-shaped
// pattern: each key in pattern is matched against the same-named field in
// event, recursing into nested objects and testing arrays of matchers
// against scalar leaves with the same matcher vocabulary filter.go uses
// for SNS filter policies (literal, prefix, anything-but, exists,
// numeric) — EventBridge patterns and SNS filter policies share this
// vocabulary in the real services, so one evaluator covers both shapes.
func MatchPattern(pattern, event map[string]interface{}) bool {
	for key, rawMatchers := range pattern {
		eventVal, present := event[key]
		switch m := rawMatchers.(type) {
		case []interface{}:
			if !matchAny(m, eventVal, present) {
				return false
			}
		case map[string]interface{}:
			nested, ok := eventVal.(map[string]interface{})
			if !present || !ok || !MatchPattern(m, nested) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchAny(matchers []interface{}, val interface{}, present bool) bool {
	for _, raw := range matchers {
		if matchOne(raw, val, present) {
			return true
		}
	}
	return false
}

func matchOne(raw interface{}, val interface{}, present bool) bool {
	switch m := raw.(type) {
	case string:
		s, ok := val.(string)
		return present && ok && s == m
	case float64:
		f, ok := toFloat(val)
		return present && ok && f == m
	case map[string]interface{}:
		return matchObjectMatcher(m, val, present)
	default:
		return false
	}
}

func matchObjectMatcher(m map[string]interface{}, val interface{}, present bool) bool {
	if raw, ok := m["exists"]; ok {
		want, _ := raw.(bool)
		return present == want
	}
	if !present {
		return false
	}
	if raw, ok := m["prefix"]; ok {
		p, _ := raw.(string)
		s, ok2 := val.(string)
		return ok2 && strings.HasPrefix(s, p)
	}
	if raw, ok := m["anything-but"]; ok {
		return matchAnythingBut(raw, val)
	}
	if raw, ok := m["numeric"]; ok {
		arr, ok2 := raw.([]interface{})
		if !ok2 || len(arr) != 2 {
			return false
		}
		op, _ := arr[0].(string)
		target, _ := arr[1].(float64)
		fv, ok3 := toFloat(val)
		return ok3 && numericMatch(op, fv, target)
	}
	return false
}

func matchAnythingBut(raw interface{}, val interface{}) bool {
	switch ab := raw.(type) {
	case []interface{}:
		for _, v := range ab {
			if equalJSON(v, val) {
				return false
			}
		}
		return true
	default:
		return !equalJSON(raw, val)
	}
}

func equalJSON(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
