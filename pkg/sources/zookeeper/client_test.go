package zookeeper

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/google/go-cmp/cmp"
)

// fakeConn serves a znode tree built from leaf paths.
type fakeConn struct {
	mu      sync.Mutex
	leaves  map[string]string
	err     error
	watches map[string]chan zk.Event
	watched chan struct{}
}

func newFakeConn(leaves map[string]string) *fakeConn {
	return &fakeConn{leaves: leaves, watches: make(map[string]chan zk.Event), watched: make(chan struct{}, 64)}
}

func (f *fakeConn) children(node string) ([]string, bool) {
	if _, ok := f.leaves[node]; ok {
		return nil, true
	}
	dir := strings.TrimSuffix(node, "/") + "/"
	var names []string
	for k := range f.leaves {
		rest, ok := strings.CutPrefix(k, dir)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, len(names) > 0 || node == "/"
}

func (f *fakeConn) Children(node string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	names, ok := f.children(node)
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return names, &zk.Stat{NumChildren: int32(len(names))}, nil
}

func (f *fakeConn) Get(node string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.leaves[node]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return []byte(v), &zk.Stat{}, nil
}

func (f *fakeConn) Exists(node string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, nil, f.err
	}
	_, ok := f.children(node)
	return ok, &zk.Stat{}, nil
}

func (f *fakeConn) watch(key string) <-chan zk.Event {
	ch := make(chan zk.Event, 1)
	f.watches[key] = ch
	f.watched <- struct{}{}
	return ch
}

func (f *fakeConn) GetW(node string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	data, stat, err := f.Get(node)
	if err != nil {
		return nil, nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return data, stat, f.watch("data:" + node), nil
}

func (f *fakeConn) ChildrenW(node string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	names, stat, err := f.Children(node)
	if err != nil {
		return nil, nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return names, stat, f.watch("children:" + node), nil
}

// fire sends e to the watch registered under key.
func (f *fakeConn) fire(t *testing.T, key string, e zk.Event) {
	t.Helper()
	f.mu.Lock()
	ch, ok := f.watches[key]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no watch registered on %s", key)
	}
	ch <- e
}

func (f *fakeConn) watchKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.watches))
	for k := range f.watches {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func testTree() map[string]string {
	return map[string]string{
		"/app/db/host": "localhost",
		"/app/db/port": "5432",
		"/app/name":    "demo",
		"/appx":        "sibling",
		"/other/key":   "skip",
	}
}

func TestGetValues(t *testing.T) {
	c := &Client{conn: newFakeConn(testTree())}

	tests := []struct {
		name string
		keys []string
		want map[string]string
	}{
		{
			name: "subtree",
			keys: []string{"/app"},
			want: map[string]string{"/app/db/host": "localhost", "/app/db/port": "5432", "/app/name": "demo"},
		},
		{
			name: "leaf",
			keys: []string{"/app/name"},
			want: map[string]string{"/app/name": "demo"},
		},
		{
			name: "trailing wildcard",
			keys: []string{"/app/db/*"},
			want: map[string]string{"/app/db/host": "localhost", "/app/db/port": "5432"},
		},
		{
			name: "missing znode",
			keys: []string{"/missing"},
			want: map[string]string{},
		},
		{
			name: "several keys",
			keys: []string{"/app/name", "/other"},
			want: map[string]string{"/app/name": "demo", "/other/key": "skip"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.GetValues(context.Background(), tt.keys)
			if err != nil {
				t.Fatalf("GetValues() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GetValues() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetValues_Error(t *testing.T) {
	conn := newFakeConn(testTree())
	conn.err = zk.ErrConnectionClosed
	c := &Client{conn: conn}
	if _, err := c.GetValues(context.Background(), []string{"/app"}); !errors.Is(err, zk.ErrConnectionClosed) {
		t.Errorf("GetValues() error = %v, want %v", err, zk.ErrConnectionClosed)
	}
}

func TestWatchPrefix_FirstCall(t *testing.T) {
	c := &Client{conn: newFakeConn(testTree())}
	idx, err := c.WatchPrefix(context.Background(), "/app", nil, 0, make(chan bool))
	if err != nil || idx != 1 {
		t.Errorf("WatchPrefix() = %d, %v; want 1, nil", idx, err)
	}
}

func TestWatchPrefix_WatchedNodes(t *testing.T) {
	conn := newFakeConn(testTree())
	c := &Client{conn: conn}
	stop := make(chan bool, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.WatchPrefix(context.Background(), "/app", nil, 1, stop)
	}()
	for range 5 {
		<-conn.watched
	}
	stop <- true
	<-done

	want := []string{
		"children:/app",
		"children:/app/db",
		"data:/app/db/host",
		"data:/app/db/port",
		"data:/app/name",
	}
	if diff := cmp.Diff(want, conn.watchKeys()); diff != "" {
		t.Errorf("watches mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchPrefix_Events(t *testing.T) {
	tests := []struct {
		name    string
		watch   string
		event   zk.Event
		want    uint64
		wantErr bool
	}{
		{"data changed", "data:/app/db/port", zk.Event{Type: zk.EventNodeDataChanged, Path: "/app/db/port"}, 4, false},
		{"child added", "children:/app/db", zk.Event{Type: zk.EventNodeChildrenChanged, Path: "/app/db"}, 4, false},
		{"leaf deleted", "data:/app/name", zk.Event{Type: zk.EventNodeDeleted, Path: "/app/name"}, 4, false},
		{"session lost", "children:/app", zk.Event{Type: zk.EventNotWatching, Err: zk.ErrSessionExpired}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(testTree())
			c := &Client{conn: conn}

			type result struct {
				idx uint64
				err error
			}
			res := make(chan result, 1)
			go func() {
				idx, err := c.WatchPrefix(context.Background(), "/app", nil, 3, make(chan bool))
				res <- result{idx, err}
			}()
			for range 5 {
				<-conn.watched
			}
			conn.fire(t, tt.watch, tt.event)

			select {
			case r := <-res:
				if r.idx != tt.want {
					t.Errorf("WatchPrefix() index = %d, want %d", r.idx, tt.want)
				}
				if (r.err != nil) != tt.wantErr {
					t.Errorf("WatchPrefix() error = %v, wantErr %v", r.err, tt.wantErr)
				}
			case <-time.After(time.Second):
				t.Fatal("WatchPrefix() did not return after the event")
			}
		})
	}
}

func TestWatchPrefix_Cancelled(t *testing.T) {
	c := &Client{conn: newFakeConn(testTree())}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx, err := c.WatchPrefix(ctx, "/app", nil, 2, make(chan bool))
	if !errors.Is(err, context.Canceled) || idx != 2 {
		t.Errorf("WatchPrefix() = %d, %v; want 2, context.Canceled", idx, err)
	}
}

func TestHealthCheck(t *testing.T) {
	conn := newFakeConn(testTree())
	c := &Client{conn: conn}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
	conn.err = zk.ErrNoServer
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() expected error")
	}
}

func TestClose(t *testing.T) {
	closed := false
	c := &Client{conn: newFakeConn(nil), close: func() { closed = true }}
	if err := c.Close(); err != nil || !closed {
		t.Errorf("Close() = %v, closed = %v; want nil, true", err, closed)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() without a session = %v", err)
	}
}

func TestNew_NoServers(t *testing.T) {
	if _, err := New(nil, 0); err == nil {
		t.Error("New() expected error without servers")
	}
}
