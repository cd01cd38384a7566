// Package env reads properties from environment variables. The key
// /app/db selects every variable starting with APP_DB.
package env

import (
	"context"
	"os"
	"strings"

	"github.com/abtreece/propsort/pkg/log"
)

var replacer = strings.NewReplacer("/", "_")

var cleanReplacer = strings.NewReplacer("_", "/")

// Client reads the process environment.
type Client struct {
	environ func() []string
}

// New returns a Client over os.Environ.
func New() (*Client, error) {
	return &Client{environ: os.Environ}, nil
}

// GetValues returns every variable matching one of keys, keyed by its
// cleaned path form (APP_DB_HOST becomes /app/db/host).
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	envMap := make(map[string]string)
	for _, e := range c.environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		envMap[k] = v
	}

	vars := make(map[string]string)
	for _, key := range keys {
		prefix := transform(key)
		for envKey, envValue := range envMap {
			if strings.HasPrefix(envKey, prefix) {
				vars[clean(envKey)] = envValue
			}
		}
	}
	log.Debug("Key Map: %#v", vars)
	return vars, nil
}

func transform(key string) string {
	k := strings.TrimPrefix(key, "/")
	return strings.ToUpper(replacer.Replace(k))
}

func clean(key string) string {
	return cleanReplacer.Replace(strings.ToLower("/" + key))
}

// WatchPrefix blocks until stopChan fires or ctx is done. The
// environment of a running process does not change.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	select {
	case <-stopChan:
		return waitIndex, nil
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	}
}

// HealthCheck always succeeds.
func (c *Client) HealthCheck(ctx context.Context) error {
	return nil
}
