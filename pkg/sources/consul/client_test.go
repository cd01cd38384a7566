package consul

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/consul/api"

	"github.com/abtreece/propsort/pkg/log"
)

func init() {
	log.SetLevel("error")
}

// fakeKV serves List from a fixed set of pairs.
type fakeKV struct {
	pairs    api.KVPairs
	index    uint64
	err      error
	block    bool
	prefixes []string
}

func (f *fakeKV) List(prefix string, q *api.QueryOptions) (api.KVPairs, *api.QueryMeta, error) {
	f.prefixes = append(f.prefixes, prefix)
	if f.block && q != nil && q.WaitIndex > 0 {
		<-q.Context().Done()
		return nil, nil, q.Context().Err()
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	var out api.KVPairs
	for _, p := range f.pairs {
		if len(p.Key) >= len(prefix) && p.Key[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out, &api.QueryMeta{LastIndex: f.index}, nil
}

func TestGetValues(t *testing.T) {
	kv := &fakeKV{pairs: api.KVPairs{
		{Key: "app/"},
		{Key: "app/db/host", Value: []byte("localhost")},
		{Key: "app/db/port", Value: []byte("5432")},
		{Key: "cache/host", Value: []byte("redis")},
	}}
	c := &Client{kv: kv}

	tests := []struct {
		name string
		keys []string
		want map[string]string
	}{
		{"prefix", []string{"/app/db"}, map[string]string{"/app/db/host": "localhost", "/app/db/port": "5432"}},
		{"multiple", []string{"/app/db/host", "/cache"}, map[string]string{"/app/db/host": "localhost", "/cache/host": "redis"}},
		{"skips folders", []string{"/app"}, map[string]string{"/app/db/host": "localhost", "/app/db/port": "5432"}},
		{"no slash", []string{"cache"}, map[string]string{"/cache/host": "redis"}},
		{"empty", []string{"/none"}, map[string]string{}},
		{"no keys", nil, map[string]string{}},
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
	c := &Client{kv: &fakeKV{err: errors.New("connection refused")}}
	if _, err := c.GetValues(context.Background(), []string{"/app"}); err == nil {
		t.Error("GetValues() expected error")
	}
}

func TestWatchPrefix_NewIndex(t *testing.T) {
	c := &Client{kv: &fakeKV{index: 42}}
	idx, err := c.WatchPrefix(context.Background(), "/app", nil, 0, make(chan bool))
	if err != nil || idx != 42 {
		t.Errorf("WatchPrefix() = %d, %v; want 42, nil", idx, err)
	}
}

func TestWatchPrefix_Error(t *testing.T) {
	c := &Client{kv: &fakeKV{err: errors.New("boom")}}
	idx, err := c.WatchPrefix(context.Background(), "/app", nil, 9, make(chan bool))
	if err == nil || idx != 9 {
		t.Errorf("WatchPrefix() = %d, %v; want 9 and an error", idx, err)
	}
}

func TestWatchPrefix_Stop(t *testing.T) {
	c := &Client{kv: &fakeKV{block: true}}
	stop := make(chan bool)
	go func() {
		time.Sleep(10 * time.Millisecond)
		stop <- true
	}()
	idx, err := c.WatchPrefix(context.Background(), "/app", nil, 5, stop)
	if err != nil || idx != 5 {
		t.Errorf("WatchPrefix(stop) = %d, %v", idx, err)
	}
}

func TestWatchPrefix_ContextCancel(t *testing.T) {
	c := &Client{kv: &fakeKV{block: true}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.WatchPrefix(ctx, "/app", nil, 5, make(chan bool)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WatchPrefix() error = %v", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		nodes  []string
		scheme string
		auth   bool
	}{
		{"defaults", nil, "", false},
		{"node", []string{"127.0.0.1:8500"}, "http", false},
		{"basic auth", []string{"127.0.0.1:8500"}, "https", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.nodes, tt.scheme, "", "", "", tt.auth, "user", "pass")
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if c.kv == nil {
				t.Error("New() returned client without KV")
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	if err := (&Client{kv: &fakeKV{}}).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
	if err := (&Client{kv: &fakeKV{err: errors.New("down")}}).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() expected error")
	}
}
