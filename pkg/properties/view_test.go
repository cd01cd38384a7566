package properties

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFruit() *Sorted {
	s := NewSorted()
	s.Set("banana", "2")
	s.Set("Apple", "1")
	s.Set("cherry", "3")
	return s
}

func TestSorted_Keys(t *testing.T) {
	s := newFruit()

	got := s.Keys().Slice()
	want := []string{"Apple", "banana", "cherry"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestSorted_Entries(t *testing.T) {
	s := newFruit()

	got := s.Entries()
	want := []Entry[string, string]{
		{Key: "Apple", Value: "1"},
		{Key: "banana", Value: "2"},
		{Key: "cherry", Value: "3"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
	}
}

func TestSorted_All(t *testing.T) {
	s := newFruit()

	var keys, values []string
	for k, v := range s.All() {
		keys = append(keys, k)
		values = append(values, v)
	}
	if diff := cmp.Diff([]string{"Apple", "banana", "cherry"}, keys); diff != "" {
		t.Errorf("All() keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, values); diff != "" {
		t.Errorf("All() values mismatch (-want +got):\n%s", diff)
	}

	n := 0
	for range s.All() {
		n++
		break
	}
	if n != 1 {
		t.Errorf("iterations after break = %d, want 1", n)
	}
}

func TestSorted_All_MutateDuringIteration(t *testing.T) {
	s := newFruit()
	for k := range s.All() {
		s.Del(k)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after deleting every key during All()", s.Len())
	}
}

func TestSorted_Enumerate(t *testing.T) {
	s := newFruit()

	e := s.Enumerate()
	if e.Remaining() != 3 {
		t.Errorf("Remaining() = %d, want 3", e.Remaining())
	}
	var got []string
	for e.HasMore() {
		k, ok := e.Next()
		if !ok {
			t.Fatal("Next() reported exhaustion while HasMore() was true")
		}
		got = append(got, k)
	}
	if diff := cmp.Diff([]string{"Apple", "banana", "cherry"}, got); diff != "" {
		t.Errorf("enumeration mismatch (-want +got):\n%s", diff)
	}

	// Forward-only: an exhausted enumeration stays exhausted.
	if k, ok := e.Next(); ok {
		t.Errorf("Next() after exhaustion = %q, true", k)
	}
	if n := len(slices.Collect(e.All())); n != 0 {
		t.Errorf("All() after exhaustion produced %d keys", n)
	}
}

func TestEnumeration_AllDrainsRemainder(t *testing.T) {
	s := newFruit()
	e := s.Enumerate()

	first, _ := e.Next()
	if first != "Apple" {
		t.Fatalf("first key = %q, want Apple", first)
	}
	rest := slices.Collect(e.All())
	if diff := cmp.Diff([]string{"banana", "cherry"}, rest); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
	if e.HasMore() {
		t.Error("HasMore() = true after All() drained the enumeration")
	}
}

func TestSorted_Empty(t *testing.T) {
	s := NewSorted()

	if n := s.Keys().Len(); n != 0 {
		t.Errorf("Keys().Len() = %d, want 0", n)
	}
	if n := len(s.Entries()); n != 0 {
		t.Errorf("len(Entries()) = %d, want 0", n)
	}
	e := s.Enumerate()
	if e.HasMore() {
		t.Error("HasMore() = true for empty store")
	}
	if _, ok := e.Next(); ok {
		t.Error("Next() = true for empty store")
	}
}

func TestSorted_KeysNonDecreasing(t *testing.T) {
	s := NewSorted()
	for i := 0; i < 200; i++ {
		s.Set(fmt.Sprintf("k%03d.%x", (i*37)%200, i), strconv.Itoa(i))
	}

	keys := s.Keys()
	for i := 1; i < keys.Len(); i++ {
		if keys.At(i-1) > keys.At(i) {
			t.Fatalf("keys out of order at %d: %q > %q", i, keys.At(i-1), keys.At(i))
		}
	}
}

func TestSorted_KeySetMatchesStore(t *testing.T) {
	s := NewSorted()
	want := map[string]string{"z": "26", "a": "1", "m": "13", "A": "0", "ä": "x", "": "empty"}
	s.SetAll(want)

	got := make(map[string]bool)
	for k := range s.Keys().All() {
		got[k] = true
	}
	if len(got) != len(want) {
		t.Fatalf("Keys() has %d keys, want %d", len(got), len(want))
	}
	for k := range want {
		if !got[k] {
			t.Errorf("Keys() is missing %q", k)
		}
	}
}

func TestSorted_EntriesMatchStore(t *testing.T) {
	s := newFruit()
	s.Set("date", "4")

	entries := s.Entries()
	if len(entries) != s.Len() {
		t.Fatalf("len(Entries()) = %d, want %d", len(entries), s.Len())
	}
	for _, e := range entries {
		v, err := s.Get(e.Key)
		if err != nil {
			t.Fatalf("Get(%q) error: %v", e.Key, err)
		}
		if v != e.Value {
			t.Errorf("entry %q has value %q, store has %q", e.Key, e.Value, v)
		}
	}
}

func TestSorted_Idempotent(t *testing.T) {
	s := newFruit()

	first := s.Keys().Slice()
	second := s.Keys().Slice()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("consecutive Keys() calls differ (-first +second):\n%s", diff)
	}
}

func TestSorted_NoCaching(t *testing.T) {
	s := newFruit()
	_ = s.Keys()

	s.Set("date", "4")

	got := s.Keys().Slice()
	want := []string{"Apple", "banana", "cherry", "date"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keys() after insert mismatch (-want +got):\n%s", diff)
	}

	s.Del("banana")
	if s.Keys().Contains("banana") {
		t.Error("Keys() still contains deleted key")
	}
}

func TestSorted_DoesNotMutateStore(t *testing.T) {
	s := newFruit()
	before := maps.Collect(s.Store.All())

	_ = s.Keys()
	entries := s.Entries()
	entries[0].Value = "changed"
	_ = slices.Collect(s.Enumerate().All())

	after := maps.Collect(s.Store.All())
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("store changed by sorted accessors (-before +after):\n%s", diff)
	}
}

func TestKeyList_ReadOnly(t *testing.T) {
	keys := newFruit().Keys()

	if err := keys.Add("date"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Add() error = %v, want ErrReadOnly", err)
	}
	if err := keys.Remove("Apple"); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Remove() error = %v, want errors.ErrUnsupported", err)
	}
	if keys.Len() != 3 || !keys.Contains("Apple") || keys.Contains("date") {
		t.Errorf("KeyList changed after failed modification: %v", keys.Slice())
	}

	// Slice is a copy.
	cp := keys.Slice()
	cp[0] = "Zebra"
	if keys.At(0) != "Apple" {
		t.Errorf("At(0) = %q after modifying Slice() copy", keys.At(0))
	}
}

func TestKeyList_Index(t *testing.T) {
	keys := newFruit().Keys()

	tests := []struct {
		key  string
		want int
	}{
		{"Apple", 0},
		{"banana", 1},
		{"cherry", 2},
		{"apple", -1},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := keys.Index(tt.key); got != tt.want {
				t.Errorf("Index(%q) = %d, want %d", tt.key, got, tt.want)
			}
		})
	}

	var zero KeyList[string]
	if zero.Len() != 0 || zero.Contains("x") {
		t.Error("zero KeyList should be empty")
	}
}

func TestSorted_ByteOrdering(t *testing.T) {
	s := NewSorted()
	for _, k := range []string{"b", "a.b", "a", "B", "a b", "ä", "_", "1", "10", "9"} {
		s.Set(k, "")
	}

	got := s.Keys().Slice()
	want := []string{"1", "10", "9", "B", "_", "a", "a b", "a.b", "b", "ä"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestWrap_SharesStore(t *testing.T) {
	store := NewStore()
	s := Wrap(store)

	store.Set("b", "2")
	s.Set("a", "1")

	if diff := cmp.Diff([]string{"a", "b"}, s.Keys().Slice()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if !store.Exists("a") {
		t.Error("write through Sorted not visible on the wrapped Store")
	}
}

// intMap is a map with non-string keys for exercising NewViewFunc.
type intMap map[int]string

func (m intMap) All() iter.Seq2[int, string] {
	return maps.All(m)
}

func TestNewViewFunc_Projection(t *testing.T) {
	m := intMap{9: "nine", 10: "ten", 100: "hundred", 2: "two"}
	v := NewViewFunc[int, string](m, strconv.Itoa)

	// Ordered by text, not numerically.
	want := []int{10, 100, 2, 9}
	if diff := cmp.Diff(want, v.Keys().Slice()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, slices.Collect(v.Enumerate().All())); diff != "" {
		t.Errorf("Enumerate() mismatch (-want +got):\n%s", diff)
	}
	entries := v.Entries()
	if entries[0].Key != 10 || entries[0].Value != "ten" {
		t.Errorf("Entries()[0] = %+v", entries[0])
	}
}

func TestNewViewFunc_CollidingTextKeepsAllKeys(t *testing.T) {
	m := intMap{1: "a", 2: "b", 3: "c"}
	v := NewViewFunc[int, string](m, func(int) string { return "same" })

	if n := v.Keys().Len(); n != 3 {
		t.Errorf("Keys().Len() = %d, want 3", n)
	}
}

func TestNewViewFunc_NilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewViewFunc(nil text) did not panic")
		}
	}()
	NewViewFunc[int, string](intMap{}, nil)
}

func TestView_ProjectionPanicPropagates(t *testing.T) {
	boom := errors.New("no textual form")
	v := NewViewFunc[int, string](intMap{1: "a"}, func(int) string { panic(boom) })

	defer func() {
		if r := recover(); r != boom {
			t.Errorf("recovered %v, want %v", r, boom)
		}
	}()
	v.Keys()
}

func TestSorted_ConcurrentAccessors(t *testing.T) {
	s := NewSorted()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(4)
		go func(i int) {
			defer wg.Done()
			s.Set("key"+strconv.Itoa(i), strconv.Itoa(i))
		}(i)
		go func() {
			defer wg.Done()
			keys := s.Keys()
			for j := 1; j < keys.Len(); j++ {
				if keys.At(j-1) > keys.At(j) {
					t.Errorf("Keys() out of order: %q > %q", keys.At(j-1), keys.At(j))
				}
			}
		}()
		go func() {
			defer wg.Done()
			_ = s.Entries()
		}()
		go func() {
			defer wg.Done()
			prev := ""
			for k := range s.Enumerate().All() {
				if k < prev {
					t.Errorf("Enumerate() out of order: %q after %q", k, prev)
				}
				prev = k
			}
		}()
	}
	wg.Wait()

	if n := s.Keys().Len(); n != 50 {
		t.Errorf("Keys().Len() = %d, want 50", n)
	}
}

func BenchmarkSorted_Keys(b *testing.B) {
	s := NewSorted()
	for i := 0; i < 1000; i++ {
		s.Set(fmt.Sprintf("app.service%d.key%d", i%37, i), "v")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Keys()
	}
}

func BenchmarkSorted_Entries(b *testing.B) {
	s := NewSorted()
	for i := 0; i < 1000; i++ {
		s.Set(fmt.Sprintf("app.service%d.key%d", i%37, i), "v")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Entries()
	}
}
