// Package consul reads properties from the Consul KV store.
package consul

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/abtreece/propsort/pkg/log"
)

// kvAPI is the subset of the Consul KV client used here.
type kvAPI interface {
	List(prefix string, q *api.QueryOptions) (api.KVPairs, *api.QueryMeta, error)
}

// Client reads from a Consul agent.
type Client struct {
	kv kvAPI
}

// New returns a Client for the first address in nodes, or the Consul
// default address when nodes is empty.
func New(nodes []string, scheme, cert, key, caCert string, basicAuth bool, username, password string) (*Client, error) {
	conf := api.DefaultConfig()
	if scheme != "" {
		conf.Scheme = scheme
	}
	if len(nodes) > 0 {
		conf.Address = nodes[0]
	}
	if basicAuth {
		conf.HttpAuth = &api.HttpBasicAuth{Username: username, Password: password}
	}
	if cert != "" && key != "" {
		conf.TLSConfig.CertFile = cert
		conf.TLSConfig.KeyFile = key
	}
	if caCert != "" {
		conf.TLSConfig.CAFile = caCert
	}

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &Client{kv: client.KV()}, nil
}

// GetValues lists every pair below each key.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	q := (&api.QueryOptions{}).WithContext(ctx)
	for _, key := range keys {
		pairs, _, err := c.kv.List(strings.TrimPrefix(key, "/"), q)
		if err != nil {
			return vars, fmt.Errorf("failed to list %s: %w", key, err)
		}
		for _, p := range pairs {
			// Folder markers carry no value.
			if strings.HasSuffix(p.Key, "/") && len(p.Value) == 0 {
				continue
			}
			vars[path.Join("/", p.Key)] = string(p.Value)
		}
	}
	return vars, nil
}

type watchResponse struct {
	waitIndex uint64
	err       error
}

// WatchPrefix issues a blocking query on prefix and returns Consul's new
// index once it moves past waitIndex.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	respChan := make(chan watchResponse, 1)
	go func() {
		opts := (&api.QueryOptions{WaitIndex: waitIndex}).WithContext(watchCtx)
		_, meta, err := c.kv.List(strings.TrimPrefix(prefix, "/"), opts)
		if err != nil {
			respChan <- watchResponse{waitIndex, err}
			return
		}
		respChan <- watchResponse{meta.LastIndex, nil}
	}()

	select {
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	case <-stopChan:
		return waitIndex, nil
	case r := <-respChan:
		return r.waitIndex, r.err
	}
}

// HealthCheck lists the root of the KV store to verify the agent
// answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "consul")

	_, _, err := c.kv.List("", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		logger.ErrorContext(ctx, "Source health check failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
		return err
	}
	logger.DebugContext(ctx, "Source health check passed",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
