package properties

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrReadOnly is returned by every attempt to modify a KeyList.
var ErrReadOnly = fmt.Errorf("sorted key list is read-only: %w", errors.ErrUnsupported)

// KeyList is an immutable, ordered sequence of keys returned by
// View.Keys. The zero value is an empty list.
type KeyList[K comparable] struct {
	keys []K
}

// Len returns the number of keys.
func (l KeyList[K]) Len() int {
	return len(l.keys)
}

// At returns the key at position i. It panics if i is out of range.
func (l KeyList[K]) At(i int) K {
	return l.keys[i]
}

// Index returns the position of key, or -1 if it is not in the list.
func (l KeyList[K]) Index(key K) int {
	return slices.Index(l.keys, key)
}

// Contains reports whether key is in the list.
func (l KeyList[K]) Contains(key K) bool {
	return l.Index(key) >= 0
}

// All iterates over the keys in order.
func (l KeyList[K]) All() iter.Seq[K] {
	return slices.Values(l.keys)
}

// Slice returns a copy of the keys that the caller may modify.
func (l KeyList[K]) Slice() []K {
	return slices.Clone(l.keys)
}

// Add always fails with ErrReadOnly.
func (l KeyList[K]) Add(key K) error {
	return fmt.Errorf("add %v: %w", key, ErrReadOnly)
}

// Remove always fails with ErrReadOnly.
func (l KeyList[K]) Remove(key K) error {
	return fmt.Errorf("remove %v: %w", key, ErrReadOnly)
}
