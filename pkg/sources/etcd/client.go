// Package etcd reads properties from etcd v3.
package etcd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/abtreece/propsort/pkg/log"
)

const requestTimeout = 3 * time.Second

type kvAPI interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

type watchAPI interface {
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
}

type statusAPI interface {
	Status(ctx context.Context, endpoint string) (*clientv3.StatusResponse, error)
}

// Options configures a Client.
type Options struct {
	Endpoints   []string
	Cert        string
	Key         string
	CACert      string
	Insecure    bool
	BasicAuth   bool
	Username    string
	Password    string
	DialTimeout time.Duration
}

// Client reads from an etcd cluster.
type Client struct {
	kv        kvAPI
	watcher   watchAPI
	status    statusAPI
	endpoints []string
	close     func() error
}

func tlsConfig(opts Options) (*tls.Config, error) {
	if opts.CACert == "" && (opts.Cert == "" || opts.Key == "") && !opts.Insecure {
		return nil, nil
	}
	cfg := &tls.Config{InsecureSkipVerify: opts.Insecure}
	if opts.CACert != "" {
		pem, err := os.ReadFile(opts.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CACert)
		}
		cfg.RootCAs = pool
	}
	if opts.Cert != "" && opts.Key != "" {
		cert, err := tls.LoadX509KeyPair(opts.Cert, opts.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// New connects to the cluster at opts.Endpoints.
func New(opts Options) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("etcd: no endpoints configured")
	}
	cfg := clientv3.Config{
		Endpoints:            opts.Endpoints,
		DialTimeout:          opts.DialTimeout,
		DialKeepAliveTime:    10 * time.Second,
		DialKeepAliveTimeout: 3 * time.Second,
	}
	if opts.BasicAuth {
		cfg.Username = opts.Username
		cfg.Password = opts.Password
	}
	tc, err := tlsConfig(opts)
	if err != nil {
		return nil, err
	}
	cfg.TLS = tc

	client, err := clientv3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &Client{
		kv:        client,
		watcher:   client,
		status:    client,
		endpoints: client.Endpoints(),
		close:     client.Close,
	}, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, requestTimeout)
}

// GetValues reads every key below each of keys. All reads after the first
// are pinned to the first read's revision so the result is consistent.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	var rev int64
	for _, key := range keys {
		reqCtx, cancel := withTimeout(ctx)
		opts := []clientv3.OpOption{clientv3.WithPrefix()}
		if rev != 0 {
			opts = append(opts, clientv3.WithRev(rev))
		}
		resp, err := c.kv.Get(reqCtx, key, opts...)
		cancel()
		if err != nil {
			return vars, fmt.Errorf("failed to get %s: %w", key, err)
		}
		dir := key
		if !strings.HasSuffix(dir, "/") {
			dir += "/"
		}
		for _, kv := range resp.Kvs {
			k := string(kv.Key)
			if k == key || strings.HasPrefix(k, dir) {
				vars[k] = string(kv.Value)
			}
		}
		if rev == 0 && resp.Header != nil {
			rev = resp.Header.Revision
		}
	}
	return vars, nil
}

// WatchPrefix returns the current revision when waitIndex is 0, and
// otherwise blocks until a revision after waitIndex touches prefix.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	if waitIndex == 0 {
		reqCtx, cancel := withTimeout(ctx)
		defer cancel()
		resp, err := c.kv.Get(reqCtx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
		if err != nil {
			return 0, err
		}
		return uint64(resp.Header.Revision), nil
	}

	watchCtx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	defer cancel()
	wch := c.watcher.Watch(watchCtx, prefix, clientv3.WithPrefix(), clientv3.WithRev(int64(waitIndex)+1))
	log.Debug("Watch created on %s from revision %d", prefix, waitIndex+1)

	for {
		select {
		case <-ctx.Done():
			return waitIndex, ctx.Err()
		case <-stopChan:
			return waitIndex, nil
		case wresp, ok := <-wch:
			if !ok {
				return waitIndex, errors.New("etcd watch channel closed")
			}
			if wresp.CompactRevision != 0 {
				// Events were compacted away; resync from the compacted revision.
				log.Warning("Watch on %s compacted at revision %d", prefix, wresp.CompactRevision)
				return uint64(wresp.CompactRevision), nil
			}
			if err := wresp.Err(); err != nil {
				return waitIndex, err
			}
			if len(wresp.Events) > 0 {
				return uint64(wresp.Header.Revision), nil
			}
		}
	}
}

// HealthCheck asks the first endpoint for its status.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "etcd")
	if len(c.endpoints) == 0 {
		return errors.New("etcd: no endpoints configured")
	}
	_, err := c.status.Status(ctx, c.endpoints[0])
	if err != nil {
		logger.ErrorContext(ctx, "Source health check failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"endpoint", c.endpoints[0],
			"error", err.Error())
		return err
	}
	logger.DebugContext(ctx, "Source health check passed",
		"duration_ms", time.Since(start).Milliseconds(),
		"endpoint", c.endpoints[0])
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
