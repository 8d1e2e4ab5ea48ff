package expr

import (
	"strconv"
	"strings"

	"github.com/cloudfleet/emulator/cmn"
)

// Env resolves the #name / :value placeholders and the item a parsed
// condition/filter expression evaluates against.
type Env struct {
	Item   cmn.Item
	Names  map[string]string    // "#n" -> real attribute name
	Values map[string]cmn.AttrValue // ":v" -> literal value
}

func (e Env) resolveSegment(seg string) string {
	if strings.HasPrefix(seg, "#") {
		if real, ok := e.Names[seg]; ok {
			return real
		}
	}
	return seg
}

// resolvePath walks a Path against the item, returning the value and
// whether every segment existed.
func (e Env) resolvePath(p Path) (cmn.AttrValue, bool) {
	name := e.resolveSegment(p.Root)
	v, ok := e.Item[name]
	if !ok {
		return cmn.AttrValue{}, false
	}
	for _, step := range p.Steps {
		if step.IsIdx {
			if v.Kind() != "L" || step.Index < 0 || step.Index >= len(v.L) {
				return cmn.AttrValue{}, false
			}
			v = v.L[step.Index]
			continue
		}
		if v.Kind() != "M" {
			return cmn.AttrValue{}, false
		}
		name := e.resolveSegment(step.Name)
		nv, ok := v.M[name]
		if !ok {
			return cmn.AttrValue{}, false
		}
		v = nv
	}
	return v, true
}

// resolveOperand returns the value of an Operand; exists is false for a
// path operand whose attribute is absent (used by attribute_exists /
// attribute_not_exists and to make missing-attribute comparisons
// evaluate to false rather than erroring, per spec.md §4.8).
func (e Env) resolveOperand(o Operand) (cmn.AttrValue, bool) {
	if o.Kind == OperandValueRef {
		v, ok := e.Values[o.ValueRef]
		return v, ok
	}
	return e.resolvePath(o.Path)
}

// Eval evaluates a parsed condition/filter AST node against env.
func Eval(node Node, env Env) bool {
	switch n := node.(type) {
	case OrNode:
		return Eval(n.Left, env) || Eval(n.Right, env)
	case AndNode:
		return Eval(n.Left, env) && Eval(n.Right, env)
	case NotNode:
		return !Eval(n.Operand, env)
	case CmpNode:
		return evalCmp(n.Op, n.Left, n.Right, env)
	case BetweenNode:
		v, ok := env.resolveOperand(n.Operand)
		lo, lok := env.resolveOperand(n.Low)
		hi, hok := env.resolveOperand(n.High)
		if !ok || !lok || !hok {
			return false
		}
		return cmpValues(v, lo) >= 0 && cmpValues(v, hi) <= 0 && v.Kind() == lo.Kind() && v.Kind() == hi.Kind()
	case InNode:
		v, ok := env.resolveOperand(n.Operand)
		if !ok {
			return false
		}
		for _, cand := range n.Set {
			cv, ok := env.resolveOperand(cand)
			if ok && cmn.Equal(v, cv) {
				return true
			}
		}
		return false
	case FuncNode:
		return evalFunc(n, env)
	case SizeCmpNode:
		v, ok := env.resolvePath(n.Path)
		if !ok {
			return false
		}
		sz := sizeOf(v)
		right, rok := env.resolveOperand(n.Right)
		if !rok || right.Kind() != "N" {
			return false
		}
		rn, err := cmn.ParseNumber(*right.N)
		if err != nil {
			return false
		}
		szRat, _ := cmn.ParseNumber(sz)
		return compareOp(n.Op, szRat.Cmp(rn))
	}
	return false
}

func evalCmp(op string, left, right Operand, env Env) bool {
	lv, lok := env.resolveOperand(left)
	rv, rok := env.resolveOperand(right)
	if !lok || !rok {
		return false
	}
	if op == "=" {
		return cmn.Equal(lv, rv)
	}
	if op == "<>" {
		return !cmn.Equal(lv, rv)
	}
	if lv.Kind() != rv.Kind() {
		return false
	}
	return compareOp(op, cmpValues(lv, rv))
}

func compareOp(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "=":
		return cmp == 0
	case "<>":
		return cmp != 0
	}
	return false
}

func cmpValues(a, b cmn.AttrValue) int { return cmn.Compare(a, b) }

func evalFunc(n FuncNode, env Env) bool {
	v, exists := env.resolvePath(n.Path)
	switch n.Name {
	case "attribute_exists":
		return exists
	case "attribute_not_exists":
		return !exists
	case "attribute_type":
		if !exists {
			return false
		}
		arg, ok := env.resolveOperand(n.Arg)
		if !ok || arg.Kind() != "S" {
			return false
		}
		return v.Kind() == *arg.S
	case "begins_with":
		if !exists || v.Kind() != "S" {
			return false
		}
		arg, ok := env.resolveOperand(n.Arg)
		if !ok || arg.Kind() != "S" {
			return false
		}
		return strings.HasPrefix(*v.S, *arg.S)
	case "contains":
		if !exists {
			return false
		}
		arg, ok := env.resolveOperand(n.Arg)
		if !ok {
			return false
		}
		switch v.Kind() {
		case "S":
			return arg.Kind() == "S" && strings.Contains(*v.S, *arg.S)
		case "SS", "NS", "BS":
			for _, item := range setItems(v) {
				if item == cmn.RawString(arg) {
					return true
				}
			}
			return false
		case "L":
			for _, item := range v.L {
				if cmn.Equal(item, arg) {
					return true
				}
			}
			return false
		}
		return false
	}
	return false
}

func setItems(v cmn.AttrValue) []string {
	switch v.Kind() {
	case "SS":
		return v.SS
	case "NS":
		return v.NS
	case "BS":
		out := make([]string, len(v.BS))
		for i, b := range v.BS {
			out[i] = string(b)
		}
		return out
	}
	return nil
}

func sizeOf(v cmn.AttrValue) string {
	switch v.Kind() {
	case "S":
		return strconv.Itoa(len(*v.S))
	case "B":
		return strconv.Itoa(len(v.B))
	case "SS":
		return strconv.Itoa(len(v.SS))
	case "NS":
		return strconv.Itoa(len(v.NS))
	case "BS":
		return strconv.Itoa(len(v.BS))
	case "L":
		return strconv.Itoa(len(v.L))
	case "M":
		return strconv.Itoa(len(v.M))
	}
	return "0"
}
