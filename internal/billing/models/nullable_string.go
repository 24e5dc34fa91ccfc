package models

import (
	"bytes"
	"encoding/json"
)

// NullableString is a three-state optional string as stored by the document
// layer: absent, explicitly null, or holding a value. Canonical ledger
// records must never carry the explicit-null state; the repair job rewrites
// it to absent. The distinction survives JSON round-trips, which is how the
// Postgres store persists these fields inside the payment meta document.
type NullableString struct {
	// Present is true when the field exists on the stored record at all.
	Present bool
	// Valid is true when the field holds a real value. Present && !Valid is
	// the explicit-null encoding repair removes.
	Valid bool
	Value string
}

// String constructs a NullableString holding a value.
func String(v string) NullableString {
	return NullableString{Present: true, Valid: true, Value: v}
}

// Null constructs the explicit-null encoding. Only tests and the store
// layer should ever need this.
func Null() NullableString {
	return NullableString{Present: true}
}

// IsExplicitNull reports whether the field carries the corrupt null
// encoding.
func (n NullableString) IsExplicitNull() bool { return n.Present && !n.Valid }

// Clear resets the field to absent.
func (n *NullableString) Clear() { *n = NullableString{} }

var jsonNull = []byte("null")

// MarshalJSON encodes the value or an explicit null. Absent fields are the
// caller's concern: skip the key entirely when Present is false.
func (n NullableString) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return jsonNull, nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON is only invoked when the key exists, so the field is
// Present; a JSON null yields the explicit-null state.
func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Present = true
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		n.Valid = false
		n.Value = ""
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}
