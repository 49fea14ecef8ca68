// Package compare implements loose equality between values of possibly different types.
// Two values are considered the same only when they share a runtime type and render to the same text,
// e.g. int(1) and "1" are different while two distinct *T pointers printing the same are not.

package compare

import (
	"fmt"
	"reflect"
)

// nullTag is both the type tag and the textual form of a nil value.
const nullTag = "null"

// ClassOf returns the runtime type tag of `v`, or "null" for a nil interface.
func ClassOf(v any) string {
	if v == nil {
		return nullTag
	}
	return reflect.TypeOf(v).String()
}

// Format returns the textual representation of `v`; nil renders as "null".
func Format(v any) string {
	if v == nil {
		return nullTag
	}
	return fmt.Sprint(v)
}

// SameType reports whether `a` and `b` carry the same type tag.
func SameType(a, b any) bool {
	return ClassOf(a) == ClassOf(b)
}

// SameValue reports whether `a` and `b` have the same type tag and the same textual representation.
func SameValue(a, b any) bool {
	return SameType(a, b) && Format(a) == Format(b)
}
