package properties

import "iter"

// Enumeration is a forward-only producer of keys that cannot be
// restarted. It is not safe for concurrent use; each call to
// View.Enumerate returns an independent Enumeration.
type Enumeration[K any] struct {
	keys []K
	pos  int
}

// HasMore reports whether Next would return another key.
func (e *Enumeration[K]) HasMore() bool {
	return e.pos < len(e.keys)
}

// Next returns the next key. The boolean is false once the enumeration
// is exhausted.
func (e *Enumeration[K]) Next() (K, bool) {
	if !e.HasMore() {
		var zero K
		return zero, false
	}
	k := e.keys[e.pos]
	e.pos++
	return k, true
}

// Remaining returns how many keys are left.
func (e *Enumeration[K]) Remaining() int {
	return len(e.keys) - e.pos
}

// All drains the remaining keys. Keys consumed by an earlier, partial
// iteration are not produced again.
func (e *Enumeration[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for {
			k, ok := e.Next()
			if !ok || !yield(k) {
				return
			}
		}
	}
}
