// Package properties implements a concurrent property store and a sorted
// view over any key/value map whose read accessors report keys in
// ascending lexicographic order.
//
// The view exists for deterministic output: a map serialized through it
// produces the same bytes on every run regardless of map iteration order.
package properties

import "iter"

// Entry is a key/value pair reported by a View.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Map is the read surface a View needs from the store it wraps.
// All must report every key exactly once.
type Map[K comparable, V any] interface {
	All() iter.Seq2[K, V]
}
