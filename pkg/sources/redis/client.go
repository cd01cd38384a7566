// Package redis reads properties from Redis strings and hashes. Keys are
// mapped to Redis names with a configurable separator, so /app/db with
// separator ":" reads app:db.
package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/types"
)

// RetryConfig controls connection retries.
type RetryConfig struct {
	MaxRetries   int           // retries per node after the first attempt
	BaseDelay    time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on any single delay
	JitterFactor float64       // 0.0-1.0
}

// DefaultRetryConfig returns the retry settings used when none are given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.3,
	}
}

// backoff returns min(base * 2^attempt, max) scaled by 1 ± jitter.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		jitter := d * cfg.JitterFactor
		d = d - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(d)
}

// Options configures a Client.
type Options struct {
	Machines     []string // host:port, host:port/db or a unix socket path
	Password     string
	Separator    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Retry        RetryConfig
}

type watchResponse struct {
	waitIndex uint64
	err       error
}

// Client reads from the first reachable Redis node.
type Client struct {
	opts Options

	mu     sync.Mutex // protects client and db
	client *redis.Client
	db     int

	watchMu     sync.Mutex // protects watchCancel
	watchCancel context.CancelFunc
	events      chan watchResponse
}

// New connects to the first reachable machine.
func New(opts Options) (*Client, error) {
	if opts.Separator == "" {
		opts.Separator = "/"
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}
	c := &Client{opts: opts, events: make(chan watchResponse, 1)}
	client, db, err := c.dial(context.Background(), true)
	if err != nil {
		return nil, err
	}
	c.client, c.db = client, db
	return c, nil
}

// parseAddress splits an optional /db suffix from address and detects unix
// sockets.
func parseAddress(address string) (network, addr string, db int) {
	network, addr = "tcp", address
	if idx := strings.LastIndex(address, "/"); idx != -1 {
		if n, err := strconv.Atoi(address[idx+1:]); err == nil {
			addr, db = address[:idx], n
		}
	}
	if _, err := os.Stat(addr); err == nil {
		network = "unix"
	}
	return network, addr, db
}

// dial tries every machine in order, retrying each with backoff.
func (c *Client) dial(ctx context.Context, withReadTimeout bool) (*redis.Client, int, error) {
	var errs []error
	for _, machine := range c.opts.Machines {
		network, addr, db := parseAddress(machine)
		for attempt := 0; attempt <= c.opts.Retry.MaxRetries; attempt++ {
			if attempt > 0 {
				wait := backoff(attempt-1, c.opts.Retry)
				log.Debug("Redis connection retry %d/%d to %s after %v", attempt, c.opts.Retry.MaxRetries, addr, wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				}
			}
			o := &redis.Options{
				Network:      network,
				Addr:         addr,
				Password:     c.opts.Password,
				DB:           db,
				DialTimeout:  c.opts.DialTimeout,
				WriteTimeout: c.opts.WriteTimeout,
			}
			if withReadTimeout {
				o.ReadTimeout = c.opts.ReadTimeout
			} else {
				o.ReadTimeout = -1
			}
			client := redis.NewClient(o)
			pingCtx, cancel := context.WithTimeout(ctx, time.Second)
			err := client.Ping(pingCtx).Err()
			cancel()
			if err == nil {
				return client, db, nil
			}
			client.Close()
			if attempt == c.opts.Retry.MaxRetries {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			}
		}
	}
	if len(errs) == 0 {
		return nil, 0, errors.New("failed to connect to redis: no machines provided")
	}
	return nil, 0, fmt.Errorf("failed to connect to any redis node: %w", errors.Join(errs...))
}

// connected returns a live client, reconnecting when the current one no
// longer answers PING.
func (c *Client) connected(ctx context.Context) (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		err := c.client.Ping(ctx).Err()
		if err == nil {
			return c.client, nil
		}
		log.Warning("Redis connection no longer usable, reconnecting: %v", err)
		c.client.Close()
		c.client = nil
	}
	client, db, err := c.dial(ctx, true)
	if err != nil {
		return nil, err
	}
	c.client, c.db = client, db
	return client, nil
}

func (c *Client) transform(key string) string {
	if c.opts.Separator == "/" {
		return key
	}
	k := strings.TrimPrefix(key, "/")
	return strings.ReplaceAll(k, "/", c.opts.Separator)
}

func (c *Client) clean(key string) string {
	k := key
	if !strings.HasPrefix(k, "/") {
		k = "/" + k
	}
	return strings.ReplaceAll(k, c.opts.Separator, "/")
}

// GetValues reads each key as a string, a hash (one property per field)
// or, failing both, a SCAN pattern for everything below it.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	rc, err := c.connected(ctx)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	for _, key := range keys {
		key = strings.ReplaceAll(key, "/*", "")
		k := c.transform(key)

		t, err := rc.Type(ctx, k).Result()
		if err != nil {
			return vars, fmt.Errorf("failed to get type of %s: %w", k, err)
		}
		switch t {
		case "string":
			v, err := rc.Get(ctx, k).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return vars, err
			}
			vars[c.clean(k)] = v
		case "hash":
			var cursor uint64
			for {
				kv, next, err := rc.HScan(ctx, k, cursor, "*", 1000).Result()
				if err != nil {
					return vars, err
				}
				for i := 0; i+1 < len(kv); i += 2 {
					vars[c.clean(k+c.opts.Separator+kv[i])] = kv[i+1]
				}
				if cursor = next; cursor == 0 {
					break
				}
			}
		default:
			pattern := k + c.opts.Separator + "*"
			if key == "/" || key == "" {
				pattern = "*"
			}
			var cursor uint64
			for {
				names, next, err := rc.Scan(ctx, cursor, pattern, 1000).Result()
				if err != nil {
					return vars, err
				}
				for _, name := range names {
					v, err := rc.Get(ctx, name).Result()
					if errors.Is(err, redis.Nil) {
						continue
					}
					if err != nil {
						// Only plain strings become properties.
						if strings.HasPrefix(err.Error(), "WRONGTYPE") {
							continue
						}
						return vars, err
					}
					vars[c.clean(name)] = v
				}
				if cursor = next; cursor == 0 {
					break
				}
			}
		}
	}
	log.Debug("Key Map: %#v", vars)
	return vars, nil
}

// changeCommands are the keyspace events that alter a value.
var changeCommands = map[string]bool{
	"del": true, "append": true, "rename_from": true, "rename_to": true,
	"expire": true, "expired": true, "set": true, "incrby": true, "incrbyfloat": true,
	"hset": true, "hincrby": true, "hincrbyfloat": true, "hdel": true,
}

// WatchPrefix waits for a keyspace notification below prefix. The server
// must have notify-keyspace-events enabled. A long-lived subscription is
// kept between calls and torn down when stopChan fires or ctx is done.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	if waitIndex == 0 {
		return 1, nil
	}

	c.watchMu.Lock()
	if c.watchCancel == nil {
		var watchCtx context.Context
		watchCtx, c.watchCancel = context.WithCancel(context.Background())
		go c.subscribe(watchCtx, prefix)
	}
	c.watchMu.Unlock()

	select {
	case <-ctx.Done():
		c.stopWatch()
		return waitIndex, ctx.Err()
	case <-stopChan:
		c.stopWatch()
		return waitIndex, nil
	case r := <-c.events:
		return r.waitIndex, r.err
	}
}

func (c *Client) stopWatch() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
}

// send delivers r unless an undelivered event is already pending.
func (c *Client) send(ctx context.Context, r watchResponse) {
	select {
	case c.events <- r:
	case <-ctx.Done():
	default:
	}
}

// subscribe keeps a keyspace subscription open, reconnecting with backoff
// until ctx is cancelled.
func (c *Client) subscribe(ctx context.Context, prefix string) {
	for attempt := 0; ctx.Err() == nil; {
		if attempt > c.opts.Retry.MaxRetries {
			c.send(ctx, watchResponse{err: fmt.Errorf("redis subscription failed after %d attempts", attempt)})
			c.stopWatch()
			return
		}
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt-1, c.opts.Retry)):
			case <-ctx.Done():
				return
			}
		}

		rc, db, err := c.dial(ctx, false)
		if err != nil {
			attempt++
			log.Warning("Redis subscription attempt %d failed: %v", attempt, err)
			continue
		}
		attempt = 0

		pattern := "__keyspace@" + strconv.Itoa(db) + "__:" + c.transform(prefix) + "*"
		pubsub := rc.PSubscribe(ctx, pattern)
		log.Debug("Redis subscribed to %s", pattern)
		var index uint64 = 1
		closed := c.consume(ctx, pubsub.Channel(), &index)
		pubsub.Close()
		rc.Close()
		if !closed {
			return
		}
		log.Warning("Redis subscription closed, reconnecting")
		attempt = 1
	}
}

// consume forwards change notifications until the channel closes (true)
// or ctx is done (false).
func (c *Client) consume(ctx context.Context, ch <-chan *redis.Message, index *uint64) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return true
			}
			log.Debug("Redis message: %s %s", msg.Channel, msg.Payload)
			if changeCommands[msg.Payload] {
				*index++
				c.send(ctx, watchResponse{waitIndex: *index})
			}
		}
	}
}

// HealthCheck pings the server, reconnecting if needed.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "redis")
	if _, err := c.connected(ctx); err != nil {
		logger.ErrorContext(ctx, "Source health check failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
		return err
	}
	logger.DebugContext(ctx, "Source health check passed",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// HealthCheckDetailed reports the server version and pool statistics.
func (c *Client) HealthCheckDetailed(ctx context.Context) (*types.HealthResult, error) {
	start := time.Now()
	rc, err := c.connected(ctx)
	if err != nil {
		return &types.HealthResult{
			Message:   "redis health check failed: " + err.Error(),
			Duration:  types.DurationMillis(time.Since(start)),
			CheckedAt: time.Now(),
			Details:   map[string]string{"error": err.Error()},
		}, err
	}

	version := "unknown"
	if info, err := rc.Info(ctx, "server").Result(); err == nil {
		for _, line := range strings.Split(info, "\n") {
			if v, ok := strings.CutPrefix(line, "redis_version:"); ok {
				version = strings.TrimSpace(v)
				break
			}
		}
	}
	stats := rc.PoolStats()
	return &types.HealthResult{
		Healthy:   true,
		Message:   "redis source is healthy",
		Duration:  types.DurationMillis(time.Since(start)),
		CheckedAt: time.Now(),
		Details: map[string]string{
			"version":     version,
			"total_conns": strconv.FormatUint(uint64(stats.TotalConns), 10),
			"idle_conns":  strconv.FormatUint(uint64(stats.IdleConns), 10),
		},
	}, nil
}

// Close stops any subscription and closes the connection.
func (c *Client) Close() error {
	c.stopWatch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		if err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	return nil
}
