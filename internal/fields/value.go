// Package fields implements the versioned field registry: the mapping from
// field names to dense slot IDs, and the typed slot vector a transaction is
// bound to before rule evaluation.
package fields

import "time"

// Kind tags the runtime type held in a slot.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

// Value is one typed slot. A zero Value is absent, which makes an unbound
// slot behave like a missing attribute.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

// StringValue treats the empty string as absent so EXISTS has useful
// semantics on optional attributes.
func StringValue(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{Kind: KindString, Str: s}
}

func NumberValue(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// TimeValue treats the zero time as absent.
func TimeValue(t time.Time) Value {
	if t.IsZero() {
		return Value{}
	}
	return Value{Kind: KindTime, Time: t}
}

func (v Value) IsAbsent() bool {
	return v.Kind == KindAbsent
}

// Vector is the per-request view the compiled predicates read: a dense slot
// array indexed by field ID plus the transaction's custom-field map for slow
// leaves. Vectors are built once per request and never mutated afterwards.
type Vector struct {
	slots  []Value
	custom map[string]any
}

// Slot returns the value bound to a field ID. Out-of-range IDs read as
// absent, so predicates compiled against a newer registry stay total.
func (v *Vector) Slot(id uint16) Value {
	if int(id) >= len(v.slots) {
		return Value{}
	}
	return v.slots[id]
}

// Custom resolves a declared custom field from the transaction map.
func (v *Vector) Custom(name string) (any, bool) {
	val, ok := v.custom[name]
	return val, ok
}
