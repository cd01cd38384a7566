package properties

import "iter"

// Sorted is a Store whose Keys, Entries, Enumerate and All accessors
// report properties in sorted key order. Every other Store method is
// promoted unchanged; s.Store.All still iterates in the store's own
// unspecified order.
type Sorted struct {
	*Store
	view *View[string, string]
}

// NewSorted returns a Sorted over a new, empty Store.
func NewSorted() *Sorted {
	return Wrap(NewStore())
}

// Wrap returns a Sorted sharing s. Writes through either value are
// visible through both.
func Wrap(s *Store) *Sorted {
	return &Sorted{Store: s, view: NewView[string, string](s)}
}

// Keys returns the current keys in sorted order.
func (s *Sorted) Keys() KeyList[string] {
	return s.view.Keys()
}

// Entries returns the current properties in sorted key order.
func (s *Sorted) Entries() []Entry[string, string] {
	return s.view.Entries()
}

// Enumerate returns a single-pass enumeration of the current keys in
// sorted order.
func (s *Sorted) Enumerate() *Enumeration[string] {
	return s.view.Enumerate()
}

// All iterates over the current properties in sorted key order. The
// order is fixed when iteration starts.
func (s *Sorted) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, e := range s.view.Entries() {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}
