//nolint:revive // types is a common Go package naming convention
package types

import (
	"bytes"
	"encoding/json"
)

// FieldState distinguishes a key that was never sent from one sent as null.
type FieldState uint8

const (
	// FieldAbsent means the key was not present in the critique.
	FieldAbsent FieldState = iota
	// FieldNull means the key was present with an explicit null.
	FieldNull
	// FieldSet means the key carried a value.
	FieldSet
)

// Field is a tri-state change value: absent, present-null, or present-value.
// The zero value is absent.
type Field[T any] struct {
	State FieldState
	Value T
}

// Absent returns an absent field.
func Absent[T any]() Field[T] { return Field[T]{} }

// Null returns a field that was explicitly null.
func Null[T any]() Field[T] { return Field[T]{State: FieldNull} }

// Set returns a field carrying v.
func Set[T any](v T) Field[T] { return Field[T]{State: FieldSet, Value: v} }

// IsSet reports whether the field carries a value.
func (f Field[T]) IsSet() bool { return f.State == FieldSet }

// ValueKind classifies a raw JSON scalar received from a critique.
type ValueKind uint8

const (
	// ValueOther covers booleans, objects and arrays.
	ValueOther ValueKind = iota
	// ValueNumber is a JSON number, kept in its literal form.
	ValueNumber
	// ValueString is a JSON string.
	ValueString
)

// Value is an uncoerced critique scalar. Coercion to the target numeric type
// happens in the evolution step, so "7", 7 and 7.0 stay distinguishable here.
type Value struct {
	Kind ValueKind
	Num  json.Number
	Str  string
}

// Number builds a numeric Value from its JSON literal.
func Number(literal string) Value { return Value{Kind: ValueNumber, Num: json.Number(literal)} }

// String builds a string Value.
func String(s string) Value { return Value{Kind: ValueString, Str: s} }

// decodeField turns a raw JSON value into a tri-state field.
// A missing key is handled by the caller; raw here is always present.
func decodeField(raw json.RawMessage) Field[Value] {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Null[Value]()
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Set(Value{Kind: ValueOther})
	}

	switch x := v.(type) {
	case json.Number:
		return Set(Value{Kind: ValueNumber, Num: x})
	case string:
		return Set(Value{Kind: ValueString, Str: x})
	default:
		return Set(Value{Kind: ValueOther})
	}
}
