package properties

import (
	"cmp"
	"slices"
	"sync"
)

// View presents the keys and entries of a Map sorted ascending by the
// byte-wise comparison of each key's textual form.
//
// A View never caches and never mutates the map: every accessor takes a
// fresh snapshot, so the result always matches the map at call time.
// The snapshot-and-sort step of every accessor is serialized on the
// View, so concurrent calls each observe a consistent key set.
type View[K comparable, V any] struct {
	mu   sync.Mutex
	m    Map[K, V]
	text func(K) string
}

// NewView returns a View over m for maps whose keys are strings.
func NewView[K ~string, V any](m Map[K, V]) *View[K, V] {
	return NewViewFunc(m, func(k K) string { return string(k) })
}

// NewViewFunc returns a View over m that orders keys by text(key).
// text must be deterministic. It panics if text is nil.
func NewViewFunc[K comparable, V any](m Map[K, V], text func(K) string) *View[K, V] {
	if text == nil {
		panic("properties: nil key text function")
	}
	return &View[K, V]{m: m, text: text}
}

// keyed is a snapshot entry decorated with its key's text.
type keyed[K comparable, V any] struct {
	text  string
	entry Entry[K, V]
}

// snapshot collects every entry of the map, sorted by key text.
// Keys whose texts collide are all kept; their relative order is
// unspecified.
func (v *View[K, V]) snapshot() []keyed[K, V] {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []keyed[K, V]
	for k, val := range v.m.All() {
		out = append(out, keyed[K, V]{text: v.text(k), entry: Entry[K, V]{Key: k, Value: val}})
	}
	slices.SortFunc(out, func(a, b keyed[K, V]) int {
		return cmp.Compare(a.text, b.text)
	})
	return out
}

func (v *View[K, V]) sortedKeys() []K {
	snap := v.snapshot()
	keys := make([]K, len(snap))
	for i, e := range snap {
		keys[i] = e.entry.Key
	}
	return keys
}

// Keys returns all current keys in sorted order as a read-only list.
func (v *View[K, V]) Keys() KeyList[K] {
	return KeyList[K]{keys: v.sortedKeys()}
}

// Entries returns all current entries in sorted key order. The slice is
// a new copy owned by the caller.
func (v *View[K, V]) Entries() []Entry[K, V] {
	snap := v.snapshot()
	entries := make([]Entry[K, V], len(snap))
	for i, e := range snap {
		entries[i] = e.entry
	}
	return entries
}

// Enumerate returns a single-pass enumeration of all current keys in
// the same order as Keys.
func (v *View[K, V]) Enumerate() *Enumeration[K] {
	return &Enumeration[K]{keys: v.sortedKeys()}
}
