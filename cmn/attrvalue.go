// Package cmn holds types and helpers shared by every service family: the
// DynamoDB-shaped typed attribute value, ARNs, the decimal numeric
// encoding expressions operate on, and the per-family error envelopes.
package cmn

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// AttrValue is the wire-typed attribute encoding used throughout the KV
// engine: exactly one of its fields is populated, matching the
// {"S":...}|{"N":...}|... shape clients send and expect back.
type AttrValue struct {
	S    *string      `json:"S,omitempty"`
	N    *string      `json:"N,omitempty"`
	BOOL *bool        `json:"BOOL,omitempty"`
	NULL *bool        `json:"NULL,omitempty"`
	B    []byte       `json:"B,omitempty"`
	L    []AttrValue  `json:"L,omitempty"`
	M    Item         `json:"M,omitempty"`
	SS   []string     `json:"SS,omitempty"`
	NS   []string     `json:"NS,omitempty"`
	BS   [][]byte     `json:"BS,omitempty"`
}

// Item is a DynamoDB-shaped item: attribute name to typed value.
type Item map[string]AttrValue

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func S(v string) AttrValue  { return AttrValue{S: strp(v)} }
func N(v string) AttrValue  { return AttrValue{N: strp(v)} }
func Bool(v bool) AttrValue { return AttrValue{BOOL: boolp(v)} }
func Null() AttrValue       { return AttrValue{NULL: boolp(true)} }
func B(v []byte) AttrValue  { return AttrValue{B: v} }
func L(v ...AttrValue) AttrValue { return AttrValue{L: v} }
func M(v Item) AttrValue    { return AttrValue{M: v} }

// Kind returns the single populated wire-type tag ("S", "N", "BOOL", ...)
// or "" if the value is the zero AttrValue.
func (v AttrValue) Kind() string {
	switch {
	case v.S != nil:
		return "S"
	case v.N != nil:
		return "N"
	case v.BOOL != nil:
		return "BOOL"
	case v.NULL != nil:
		return "NULL"
	case v.B != nil:
		return "B"
	case v.L != nil:
		return "L"
	case v.M != nil:
		return "M"
	case v.SS != nil:
		return "SS"
	case v.NS != nil:
		return "NS"
	case v.BS != nil:
		return "BS"
	}
	return ""
}

// Equal reports deep, type-sensitive equality between two attribute
// values. Mixed-type comparisons are always false, never an error, per
// spec.md's expression-evaluation rule.
func Equal(a, b AttrValue) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case "S":
		return *a.S == *b.S
	case "N":
		an, aerr := ParseNumber(*a.N)
		bn, berr := ParseNumber(*b.N)
		if aerr != nil || berr != nil {
			return *a.N == *b.N
		}
		return an.Cmp(bn) == 0
	case "BOOL":
		return *a.BOOL == *b.BOOL
	case "NULL":
		return true
	case "B":
		return base64.StdEncoding.EncodeToString(a.B) == base64.StdEncoding.EncodeToString(b.B)
	case "L":
		if len(a.L) != len(b.L) {
			return false
		}
		for i := range a.L {
			if !Equal(a.L[i], b.L[i]) {
				return false
			}
		}
		return true
	case "M":
		if len(a.M) != len(b.M) {
			return false
		}
		for k, av := range a.M {
			bv, ok := b.M[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case "SS", "NS":
		as, bs := stringSet(a), stringSet(b)
		return sameSet(as, bs)
	case "BS":
		as, bs := byteSetStrings(a.BS), byteSetStrings(b.BS)
		return sameSet(as, bs)
	}
	return false
}

func stringSet(v AttrValue) []string {
	if v.SS != nil {
		return v.SS
	}
	return v.NS
}

func byteSetStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = base64.StdEncoding.EncodeToString(b)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	am := make(map[string]int, len(a))
	for _, v := range a {
		am[v]++
	}
	for _, v := range b {
		am[v]--
	}
	for _, c := range am {
		if c != 0 {
			return false
		}
	}
	return true
}

// Compare orders two attribute values of the same scalar type ("S", "N",
// "B"); used for sort-key ordering in Query. Mixed types or non-scalar
// kinds return 0 (callers only invoke this on a table's declared key
// type so mismatches indicate caller error, not client input).
func Compare(a, b AttrValue) int {
	if a.Kind() != b.Kind() {
		return 0
	}
	switch a.Kind() {
	case "S":
		return strings.Compare(*a.S, *b.S)
	case "N":
		an, aerr := ParseNumber(*a.N)
		bn, berr := ParseNumber(*b.N)
		if aerr != nil || berr != nil {
			return strings.Compare(*a.N, *b.N)
		}
		return an.Cmp(bn)
	case "B":
		return strings.Compare(string(a.B), string(b.B))
	}
	return 0
}

// KeySchemaElement describes one partition- or sort-key attribute.
type KeySchemaElement struct {
	AttributeName string `json:"AttributeName" yaml:"name"`
	KeyType       string `json:"KeyType" yaml:"type"` // HASH | RANGE
}

// AttrDef describes one attribute-name/scalar-type pair for a table.
type AttrDef struct {
	AttributeName string `json:"AttributeName"`
	AttributeType string `json:"AttributeType"` // S | N | B
}

// Fingerprint returns a stable hash key for an item's declared key
// attributes, used to detect in-flight duplicate writes (see the
// cuckoofilter-backed coordination in package kv).
func Fingerprint(item Item, keySchema []KeySchemaElement) string {
	parts := make([]string, 0, len(keySchema))
	for _, ks := range keySchema {
		v := item[ks.AttributeName]
		parts = append(parts, ks.AttributeName+"="+RawString(v))
	}
	sort.Strings(parts)
	return strings.Join(parts, "/")
}

// RawString renders an attribute value's scalar payload for hashing and
// fingerprinting purposes; it is not a display format.
func RawString(v AttrValue) string {
	switch v.Kind() {
	case "S":
		return *v.S
	case "N":
		return *v.N
	case "B":
		return base64.StdEncoding.EncodeToString(v.B)
	case "BOOL":
		return fmt.Sprintf("%v", *v.BOOL)
	}
	return ""
}
