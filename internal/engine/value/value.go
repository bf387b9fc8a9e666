// Package value implements the flow engine's tagged-variant runtime value
// (C1 support type): the dynamically typed result of every expression,
// record field, and step output.
package value

import (
	"fmt"
	"math"
	"sort"
)

// Kind tags the active variant of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindList
	KindMap
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Value is the tagged union every expression evaluates to. Only the field
// matching Kind is meaningful; the rest are zero.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	List   []Value
	Map    map[string]Value
	Record *Record
}

// Record is a named, field-ordered value produced by the Record Layer (C4).
type Record struct {
	Frame  string
	Fields map[string]Value
	Order  []string
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value           { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value       { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value          { return Value{Kind: KindStr, Str: s} }
func List(items []Value) Value    { return Value{Kind: KindList, List: items} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// FromRecord wraps a Record as a Value.
func FromRecord(r *Record) Value { return Value{Kind: KindRecord, Record: r} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Truthy implements the engine's truthiness rules: null/false/0/""/empty
// collections are falsy, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindStr:
		return v.Str != ""
	case KindList:
		return len(v.List) > 0
	case KindMap:
		return len(v.Map) > 0
	case KindRecord:
		return v.Record != nil
	default:
		return false
	}
}

// AsFloat coerces numeric kinds to float64; ok is false for non-numerics.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Equal implements the engine's structural equality used by `==`, `in`, and
// deduplication builtins.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
		if aok && bok {
			return af == bf
		}
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindStr:
		return a.Str == b.Str
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindRecord:
		if a.Record == nil || b.Record == nil {
			return a.Record == b.Record
		}
		if a.Record.Frame != b.Record.Frame || len(a.Record.Fields) != len(b.Record.Fields) {
			return false
		}
		for k, av := range a.Record.Fields {
			bv, ok := b.Record.Fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values for `sorted`/`order by`. Numeric kinds compare
// numerically; strings lexically; mismatched non-numeric kinds compare by
// Kind as a stable fallback.
func Compare(a, b Value) int {
	if af, aok := a.AsFloat(); aok {
		if bf, bok := b.AsFloat(); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if a.Kind == KindStr && b.Kind == KindStr {
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		default:
			return 0
		}
	}
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	return 0
}

// Native converts a Value into a plain Go value (string/int64/float64/bool/
// nil/[]any/map[string]any) suitable for JSON encoding or provider payloads.
func (v Value) Native() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindStr:
		return v.Str
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Native()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.Native()
		}
		return out
	case KindRecord:
		if v.Record == nil {
			return nil
		}
		out := make(map[string]any, len(v.Record.Fields))
		for k, item := range v.Record.Fields {
			out[k] = item.Native()
		}
		return out
	default:
		return nil
	}
}

// FromNative builds a Value from a decoded JSON/YAML-shaped Go value.
func FromNative(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(val)
	case string:
		return Str(val)
	case int:
		return Int(int64(val))
	case int64:
		return Int(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return Float(val)
		}
		return Float(val)
	case []any:
		items := make([]Value, len(val))
		for i, item := range val {
			items[i] = FromNative(item)
		}
		return List(items)
	case map[string]any:
		m := make(map[string]Value, len(val))
		for k, item := range val {
			m[k] = FromNative(item)
		}
		return Map(m)
	default:
		return Str(fmt.Sprintf("%v", val))
	}
}

// SortKeys returns m's keys in a deterministic, sorted order; used wherever
// map iteration must be stable (logging, RAG context assembly, tests).
func SortKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders v for error messages and debug logging.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindStr:
		return v.Str
	case KindList:
		return fmt.Sprintf("%v", v.Native())
	case KindMap:
		return fmt.Sprintf("%v", v.Native())
	case KindRecord:
		if v.Record == nil {
			return "null"
		}
		return fmt.Sprintf("%s%v", v.Record.Frame, v.Record.Fields)
	default:
		return ""
	}
}
