package expr

import (
	"fmt"

	"github.com/cloudfleet/emulator/cmn"
)

// Apply mutates item in place per u, resolving #name/:value placeholders
// through env.Names/env.Values. Semantics follow spec.md §4.8: ADD on a
// missing numeric attribute creates it 0-initialized; ADD/DELETE on sets
// union/subtract; REMOVE deletes attributes or list indices;
// list_append concatenates.
func Apply(u UpdateExpr, item cmn.Item, env Env) error {
	for _, set := range u.Sets {
		val, err := resolveSetValue(set.Value, item, env)
		if err != nil {
			return err
		}
		if err := setPath(item, set.Path, val, env); err != nil {
			return err
		}
	}
	for _, path := range u.Removes {
		removePath(item, path, env)
	}
	for _, add := range u.Adds {
		if err := applyAdd(item, add, env); err != nil {
			return err
		}
	}
	for _, del := range u.Deletes {
		if err := applyDelete(item, del, env); err != nil {
			return err
		}
	}
	return nil
}

func resolveSetValue(sv SetValue, item cmn.Item, env Env) (cmn.AttrValue, error) {
	switch sv.Kind {
	case SetValueOperand:
		v, ok := env.resolveOperand(sv.Operand)
		if !ok {
			return cmn.AttrValue{}, fmt.Errorf("unresolved operand in SET clause")
		}
		return v, nil
	case SetValueArith:
		lv, lok := env.resolveOperand(sv.Left)
		rv, rok := env.resolveOperand(sv.Right)
		if !lok || !rok || lv.Kind() != "N" || rv.Kind() != "N" {
			return cmn.AttrValue{}, fmt.Errorf("SET arithmetic requires two numeric operands")
		}
		var result string
		var err error
		if sv.ArithOp == "+" {
			result, err = cmn.AddNumbers(*lv.N, *rv.N)
		} else {
			result, err = cmn.SubNumbers(*lv.N, *rv.N)
		}
		if err != nil {
			return cmn.AttrValue{}, err
		}
		return cmn.N(result), nil
	case SetValueIfNotExists:
		if v, ok := env.resolvePath(sv.INEPath); ok {
			return v, nil
		}
		v, ok := env.resolveOperand(sv.INEValue)
		if !ok {
			return cmn.AttrValue{}, fmt.Errorf("unresolved operand in if_not_exists")
		}
		return v, nil
	case SetValueListAppend:
		first, fok := env.resolveOperand(sv.LAFirst)
		second, sok := env.resolveOperand(sv.LASecond)
		if !fok || !sok || first.Kind() != "L" || second.Kind() != "L" {
			return cmn.AttrValue{}, fmt.Errorf("list_append requires two list operands")
		}
		combined := append(append([]cmn.AttrValue{}, first.L...), second.L...)
		return cmn.L(combined...), nil
	case SetValueArithOnInner:
		lv, err := resolveSetValue(*sv.Inner, item, env)
		if err != nil {
			return cmn.AttrValue{}, err
		}
		rv, rok := env.resolveOperand(sv.Right)
		if !rok || lv.Kind() != "N" || rv.Kind() != "N" {
			return cmn.AttrValue{}, fmt.Errorf("SET arithmetic requires two numeric operands")
		}
		var result string
		if sv.ArithOp == "+" {
			result, err = cmn.AddNumbers(*lv.N, *rv.N)
		} else {
			result, err = cmn.SubNumbers(*lv.N, *rv.N)
		}
		if err != nil {
			return cmn.AttrValue{}, err
		}
		return cmn.N(result), nil
	}
	return cmn.AttrValue{}, fmt.Errorf("unknown SET value kind")
}

// setPath writes val at path, creating intermediate maps as needed for
// a top-level attribute or a map-nested path; writing through a list
// index requires the list element to already exist.
func setPath(item cmn.Item, path Path, val cmn.AttrValue, env Env) error {
	root := env.resolveSegment(path.Root)
	if len(path.Steps) == 0 {
		item[root] = val
		return nil
	}
	container, ok := item[root]
	if !ok {
		container = cmn.M(cmn.Item{})
		item[root] = container
	}
	return setStep(&item, root, &container, path.Steps, val, env)
}

func setStep(item *cmn.Item, root string, container *cmn.AttrValue, steps []PathStep, val cmn.AttrValue, env Env) error {
	step := steps[0]
	last := len(steps) == 1
	if step.IsIdx {
		if container.Kind() != "L" {
			return fmt.Errorf("path segment is not a list")
		}
		if step.Index < 0 || step.Index >= len(container.L) {
			return fmt.Errorf("list index %d out of range", step.Index)
		}
		if last {
			container.L[step.Index] = val
			(*item)[root] = *container
			return nil
		}
		child := container.L[step.Index]
		if err := setStep(item, root, &child, steps[1:], val, env); err != nil {
			return err
		}
		container.L[step.Index] = child
		(*item)[root] = *container
		return nil
	}
	if container.Kind() != "M" {
		return fmt.Errorf("path segment is not a map")
	}
	name := env.resolveSegment(step.Name)
	if last {
		container.M[name] = val
		(*item)[root] = *container
		return nil
	}
	child, ok := container.M[name]
	if !ok {
		child = cmn.M(cmn.Item{})
	}
	if err := setStep(item, root, &child, steps[1:], val, env); err != nil {
		return err
	}
	container.M[name] = child
	(*item)[root] = *container
	return nil
}

func removePath(item cmn.Item, path Path, env Env) {
	root := env.resolveSegment(path.Root)
	if len(path.Steps) == 0 {
		delete(item, root)
		return
	}
	container, ok := item[root]
	if !ok {
		return
	}
	removeStep(&container, path.Steps, env)
	item[root] = container
}

func removeStep(container *cmn.AttrValue, steps []PathStep, env Env) {
	step := steps[0]
	last := len(steps) == 1
	if step.IsIdx {
		if container.Kind() != "L" || step.Index < 0 || step.Index >= len(container.L) {
			return
		}
		if last {
			container.L = append(container.L[:step.Index], container.L[step.Index+1:]...)
			return
		}
		removeStep(&container.L[step.Index], steps[1:], env)
		return
	}
	if container.Kind() != "M" {
		return
	}
	name := env.resolveSegment(step.Name)
	if last {
		delete(container.M, name)
		return
	}
	if child, ok := container.M[name]; ok {
		removeStep(&child, steps[1:], env)
		container.M[name] = child
	}
}

func applyAdd(item cmn.Item, add AddClause, env Env) error {
	root := env.resolveSegment(add.Path.Root)
	if len(add.Path.Steps) != 0 {
		return fmt.Errorf("ADD only supports top-level attributes")
	}
	operand, ok := env.resolveOperand(add.Operand)
	if !ok {
		return fmt.Errorf("unresolved ADD operand")
	}
	existing, has := item[root]
	switch operand.Kind() {
	case "N":
		base := "0"
		if has {
			if existing.Kind() != "N" {
				return fmt.Errorf("ADD on non-numeric attribute %q", root)
			}
			base = *existing.N
		}
		sum, err := cmn.AddNumbers(base, *operand.N)
		if err != nil {
			return err
		}
		item[root] = cmn.N(sum)
	case "SS", "NS", "BS":
		if !has {
			item[root] = operand
			return nil
		}
		if existing.Kind() != operand.Kind() {
			return fmt.Errorf("ADD set-union kind mismatch on %q", root)
		}
		item[root] = unionSet(existing, operand)
	default:
		return fmt.Errorf("ADD requires a number or set operand")
	}
	return nil
}

func applyDelete(item cmn.Item, del AddClause, env Env) error {
	root := env.resolveSegment(del.Path.Root)
	if len(del.Path.Steps) != 0 {
		return fmt.Errorf("DELETE only supports top-level attributes")
	}
	existing, has := item[root]
	if !has {
		return nil
	}
	operand, ok := env.resolveOperand(del.Operand)
	if !ok {
		return fmt.Errorf("unresolved DELETE operand")
	}
	if existing.Kind() != operand.Kind() {
		return fmt.Errorf("DELETE set-difference kind mismatch on %q", root)
	}
	item[root] = differenceSet(existing, operand)
	return nil
}

func unionSet(a, b cmn.AttrValue) cmn.AttrValue {
	seen := map[string]bool{}
	var out []string
	for _, v := range setItems(a) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range setItems(b) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return rebuildSet(a.Kind(), out)
}

func differenceSet(a, b cmn.AttrValue) cmn.AttrValue {
	remove := map[string]bool{}
	for _, v := range setItems(b) {
		remove[v] = true
	}
	var out []string
	for _, v := range setItems(a) {
		if !remove[v] {
			out = append(out, v)
		}
	}
	return rebuildSet(a.Kind(), out)
}

func rebuildSet(kind string, items []string) cmn.AttrValue {
	switch kind {
	case "SS":
		return cmn.AttrValue{SS: items}
	case "NS":
		return cmn.AttrValue{NS: items}
	case "BS":
		bs := make([][]byte, len(items))
		for i, s := range items {
			bs[i] = []byte(s)
		}
		return cmn.AttrValue{BS: bs}
	}
	return cmn.AttrValue{}
}
