package model

import (
	"fmt"
	"sort"
	"strings"
)

// Value is a sealed interface over the constrained payload types an update
// operation or metadata field may carry. Only String, Int, Float, Bool and
// Map implement it.
//
// Keeping the variant closed lets consumers switch exhaustively instead of
// type-asserting on any. Merge semantics depend on the distinction between
// structured (Map) and scalar (everything else) values.
type Value interface {
	value() // Sealed - only these types implement it
}

// String represents a textual value.
type String string

func (String) value() {}

// Int represents an integer value. Always int64.
type Int int64

func (Int) value() {}

// Float represents a floating-point value.
type Float float64

func (Float) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Map represents a structured key/value payload. Merge resolution
// shallow-merges Map values key by key.
type Map map[string]Value

func (Map) value() {}

// IsStructured reports whether v is a Map payload.
// Scalar values (and nil) are not structured.
func IsStructured(v Value) bool {
	_, ok := v.(Map)
	return ok
}

// MergeMaps shallow-merges b into a and returns the result.
// Keys present in both take b's value. Neither input is mutated.
func MergeMaps(a, b Map) Map {
	out := make(Map, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// SortedKeys returns m's keys in ascending order for deterministic iteration.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatValue renders a Value for logs and trace output.
// Map keys are emitted in sorted order so output is deterministic.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case String:
		return string(val)
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Float:
		return fmt.Sprintf("%g", float64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case Map:
		var b strings.Builder
		b.WriteString("{")
		for i, k := range val.SortedKeys() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(FormatValue(val[k]))
		}
		b.WriteString("}")
		return b.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ValueFromAny converts loosely-typed scenario/config input into a Value.
// JSON/YAML decoding produces string, bool, int, float64 and
// map[string]any, which cover every shape the harness feeds in.
func ValueFromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		// YAML decodes whole numbers as int, JSON as float64.
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return Float(val), nil
	case map[string]any:
		m := make(Map, len(val))
		for k, elem := range val {
			converted, err := ValueFromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", k, err)
			}
			m[k] = converted
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ValueToAny converts a Value back into plain Go types for JSON encoding.
func ValueToAny(v Value) any {
	switch val := v.(type) {
	case nil:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Map:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ValueToAny(elem)
		}
		return out
	default:
		return nil
	}
}
