// Package value implements the language-neutral dynamic metadata value used
// throughout the engine: the filter evaluator, the schema validator, and the
// chunk persistence codec all dispatch on Value's Kind rather than coupling
// to any particular JSON library.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindSeq
	KindMap
)

// Value is a tagged union over the metadata shapes the engine supports:
// null, bool, signed/unsigned integer, float64, string, an ordered sequence
// of values, or a string-keyed map of values.
//
// Only one of the typed fields is meaningful, selected by Kind. Zero value
// is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	seq  []Value
	m    map[string]Value
	// keys preserves map insertion order for stable encoding/round-trip.
	keys []string
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Uint(u uint64) Value        { return Value{kind: KindUint, u: u} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func String(s string) Value      { return Value{kind: KindString, s: s} }

// Seq constructs a sequence value. The given slice is not copied further;
// callers should treat it as owned by the Value afterward.
func Seq(items []Value) Value {
	return Value{kind: KindSeq, seq: items}
}

// Map constructs a mapping value from keys (in the order they should be
// preserved) and an already-populated key->Value map.
func Map(keys []string, m map[string]Value) Value {
	return Value{kind: KindMap, keys: keys, m: m}
}

// NewMap returns an empty, growable mapping value.
func NewMap() Value {
	return Value{kind: KindMap, m: make(map[string]Value)}
}

// Set inserts or overwrites a key in a map Value. Panics if v is not a map.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindMap {
		panic("value: Set on non-map Value")
	}
	if v.m == nil {
		v.m = make(map[string]Value)
	}
	if _, exists := v.m[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.m[key] = val
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsSeq() ([]Value, bool) {
	if v.kind != KindSeq {
		return nil, false
	}
	return v.seq, true
}

// Keys returns the ordered key list of a map Value, or nil otherwise.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	return v.keys
}

// Field returns the value at key within a map Value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	val, ok := v.m[key]
	return val, ok
}

// IsNumeric reports whether the Value holds any of the numeric subtypes
// (int, uint, float) — filter and schema code treat these as one family.
func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInt, KindUint, KindFloat:
		return true
	default:
		return false
	}
}

// AsFloat64 coerces any numeric subtype to float64 for range comparisons.
// The second return is false for non-numeric values.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindUint:
		return float64(v.u), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Path walks a dot-separated field path through nested maps. It returns
// (zero Value, false) if any intermediate segment is absent or not a map —
// never an error, per the filter evaluator's contract (spec §4.1).
func (v Value) Path(path []string) (Value, bool) {
	cur := v
	for _, seg := range path {
		if cur.kind != KindMap {
			return Value{}, false
		}
		next, ok := cur.m[seg]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Equal reports deep, kind-aware equality. Numeric subtypes compare by
// value (1 == 1.0 == uint64(1)), matching the filter language's $eq/$in
// semantics. Sequences and maps compare element-wise; map comparison is
// order-independent.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return af == bf
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindSeq:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders a Value for debugging/error messages only; it is not a
// stable serialization format (use Encode for that).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUint:
		return fmt.Sprintf("%d", v.u)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindSeq:
		return fmt.Sprintf("seq(%d)", len(v.seq))
	case KindMap:
		keys := append([]string(nil), v.keys...)
		sort.Strings(keys)
		return fmt.Sprintf("map(%v)", keys)
	default:
		return "?"
	}
}

// FromAny converts a Go value built from JSON unmarshaling (map[string]any,
// []any, string, bool, float64/json.Number, nil) into a Value. This is the
// bridge bindings use when metadata arrives as decoded JSON; the core never
// imports encoding/json itself outside this conversion.
func FromAny(in any) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint64:
		return Uint(t)
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case []any:
		seq := make([]Value, len(t))
		for i, item := range t {
			seq[i] = FromAny(item)
		}
		return Seq(seq)
	case map[string]any:
		keys := make([]string, 0, len(t))
		m := make(map[string]Value, len(t))
		for k, val := range t {
			keys = append(keys, k)
			m[k] = FromAny(val)
		}
		sort.Strings(keys)
		return Map(keys, m)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return Null()
	default:
		return Null()
	}
}

// ToAny converts a Value back into plain Go values suitable for
// encoding/json, for bindings that want a native JSON representation back.
func ToAny(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindUint:
		return v.u
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindSeq:
		out := make([]any, len(v.seq))
		for i, item := range v.seq {
			out[i] = ToAny(item)
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for _, k := range v.keys {
			out[k] = ToAny(v.m[k])
		}
		return out
	default:
		return nil
	}
}
