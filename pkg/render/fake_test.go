package render

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
)

// fakeSource serves a mutable map. WatchPrefix answers 1 at index 0 and
// afterwards blocks until notify is called.
type fakeSource struct {
	mu      sync.Mutex
	values  map[string]string
	err     error
	gets    atomic.Int32
	watches atomic.Int32
	changes chan struct{}
}

func newFakeSource(values map[string]string) *fakeSource {
	return &fakeSource{values: values, changes: make(chan struct{}, 1)}
}

func (f *fakeSource) set(k, v string) {
	f.mu.Lock()
	f.values[k] = v
	f.mu.Unlock()
}

func (f *fakeSource) notify() {
	f.changes <- struct{}{}
}

func (f *fakeSource) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return maps.Clone(f.values), nil
}

func (f *fakeSource) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	f.watches.Add(1)
	if waitIndex == 0 {
		return 1, nil
	}
	select {
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	case <-stopChan:
		return waitIndex, nil
	case <-f.changes:
		return waitIndex + 1, nil
	}
}

func (f *fakeSource) HealthCheck(ctx context.Context) error {
	return nil
}

// fakeReloader fires a reload when trigger is called.
type fakeReloader struct {
	mu  sync.Mutex
	chs []chan struct{}
}

func (r *fakeReloader) Subscribe() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.chs = append(r.chs, ch)
	return ch
}

// pending returns the number of subscriptions not yet fired.
func (r *fakeReloader) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chs)
}

func (r *fakeReloader) trigger() {
	r.mu.Lock()
	chs := r.chs
	r.chs = nil
	r.mu.Unlock()
	for _, ch := range chs {
		close(ch)
	}
}
