package design

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Directive is the inheritance state of a Field.
type Directive int

const (
	// Inherit takes the parent's resolved value.
	Inherit Directive = iota

	// Override replaces the parent's value.
	Override

	// Unset clears the field even when an ancestor sets it.
	Unset
)

func (d Directive) String() string {
	switch d {
	case Override:
		return "override"
	case Unset:
		return "unset"
	default:
		return "inherit"
	}
}

// Tombstone is the document value that unsets an inherited field or
// removes an inherited entry when used as a name prefix.
const Tombstone = "!"

// Field is an inheritable scalar. The zero value inherits.
//
// In documents a missing key or null inherits, "!" unsets any field,
// and -1 unsets an integer field. Every other value overrides.
type Field[T comparable] struct {
	directive Directive
	value     T
}

// Set returns a field overriding with v.
func Set[T comparable](v T) Field[T] {
	return Field[T]{directive: Override, value: v}
}

// Cleared returns a field that unsets the inherited value.
func Cleared[T comparable]() Field[T] {
	return Field[T]{directive: Unset}
}

// Directive returns the inheritance state.
func (f Field[T]) Directive() Directive {
	return f.directive
}

// Get returns the value and whether it is set.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.directive == Override
}

// IsSet reports whether the field carries a value.
func (f Field[T]) IsSet() bool {
	return f.directive == Override
}

// Value returns the value, or the zero value when the field is not set.
func (f Field[T]) Value() T {
	if f.directive != Override {
		var zero T
		return zero
	}
	return f.value
}

// OrDefault returns the value, or def when the field is not set.
func (f Field[T]) OrDefault(def T) T {
	if f.directive != Override {
		return def
	}
	return f.value
}

// Resolve applies scalar inheritance: an inheriting child takes the parent,
// an unsetting child vetoes the parent, and an overriding child wins.
func Resolve[T comparable](child, parent Field[T]) Field[T] {
	switch child.directive {
	case Inherit:
		return parent
	case Unset:
		return Cleared[T]()
	default:
		return child
	}
}

// UnmarshalYAML decodes a scalar and maps the tombstone values to Unset.
// Null values never reach here; yaml.v3 leaves the zero value (Inherit).
func (f *Field[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	if node.Value == Tombstone || (node.Tag == "!" && node.Value == "") {
		*f = Cleared[T]()
		return nil
	}

	var v T
	if err := node.Decode(&v); err != nil {
		return err
	}
	if isIntTombstone(v) {
		*f = Cleared[T]()
		return nil
	}
	*f = Set(v)
	return nil
}

// MarshalJSON renders a set field as its value and anything else as null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.directive != Override {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f Field[T]) String() string {
	switch f.directive {
	case Override:
		return fmt.Sprint(f.value)
	case Unset:
		return Tombstone
	default:
		return "<inherit>"
	}
}

func isIntTombstone(v any) bool {
	switch n := v.(type) {
	case int:
		return n == -1
	case int32:
		return n == -1
	case int64:
		return n == -1
	}
	return false
}
