package properties

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"sync"
)

var (
	// ErrNotExist is returned when a key does not exist in the store.
	ErrNotExist = errors.New("key does not exist")
)

// KeyError wraps an error with the associated key.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Key)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// Store is an in-memory string property store safe for concurrent access.
// Its own iteration order is unspecified; wrap it in a View (or use
// Sorted) for ordered reads.
type Store struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewStore creates and initializes an empty Store.
func NewStore() *Store {
	return &Store{m: make(map[string]string)}
}

// Del deletes the property associated with key.
func (s *Store) Del(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Exists checks for the existence of key in the store.
func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	_, ok := s.m[key]
	s.mu.RUnlock()
	return ok
}

// Get returns the value associated with key.
// If the key does not exist, it returns an error wrapping ErrNotExist.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", &KeyError{Key: key, Err: ErrNotExist}
	}
	return v, nil
}

// GetValue returns the value associated with key.
// If the key does not exist and a default is provided, the default is returned.
// Otherwise, it returns an error wrapping ErrNotExist.
func (s *Store) GetValue(key string, defaultValue ...string) (string, error) {
	v, err := s.Get(key)
	if err != nil && len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return v, err
}

// Set stores a property, replacing any previous value for key.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// SetAll stores every pair of values.
func (s *Store) SetAll(values map[string]string) {
	s.mu.Lock()
	maps.Copy(s.m, values)
	s.mu.Unlock()
}

// Len returns the number of properties.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Purge removes all entries from the store.
func (s *Store) Purge() {
	s.mu.Lock()
	clear(s.m)
	s.mu.Unlock()
}

// All iterates over a snapshot of the store in unspecified order.
// The snapshot is taken when iteration starts, so the loop body may
// mutate the store.
func (s *Store) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		s.mu.RLock()
		snapshot := maps.Clone(s.m)
		s.mu.RUnlock()

		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}
