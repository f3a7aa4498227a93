// Package optional provides a typed optional value used by partial
// configuration structs, where "absent" and "zero" must stay distinguishable.
package optional

import (
	"bytes"
	"encoding/json"
)

// Value holds a T that may or may not be set.
type Value[T any] struct {
	v   T
	set bool
}

// Some returns a set value.
func Some[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

// None returns an unset value.
func None[T any]() Value[T] {
	return Value[T]{}
}

// Get returns the value and whether it is set.
func (o Value[T]) Get() (T, bool) {
	return o.v, o.set
}

// IsSet reports whether the value is present.
func (o Value[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value if set, otherwise def.
func (o Value[T]) OrElse(def T) T {
	if o.set {
		return o.v
	}
	return def
}

// Or returns o when set, otherwise other. Used for "later layer wins" overlays.
func (o Value[T]) Or(other Value[T]) Value[T] {
	if o.set {
		return o
	}
	return other
}

// MarshalJSON encodes an unset value as null.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON treats null as unset.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Value[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Value[T]{v: v, set: true}
	return nil
}
