// Package zookeeper reads properties from ZooKeeper znodes. Leaf znodes
// become keys; znodes with children are walked.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/abtreece/propsort/pkg/log"
)

// zkConn is the part of *zk.Conn the client uses.
type zkConn interface {
	Children(path string) ([]string, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Exists(path string) (bool, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
}

// Client reads znode trees.
type Client struct {
	conn  zkConn
	close func()
}

// New connects to the ensemble. The session timeout defaults to one
// second.
func New(machines []string, sessionTimeout time.Duration) (*Client, error) {
	if len(machines) == 0 {
		return nil, errors.New("no zookeeper servers configured")
	}
	if sessionTimeout == 0 {
		sessionTimeout = time.Second
	}
	conn, _, err := zk.Connect(machines, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &Client{conn: conn, close: conn.Close}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	if c.close != nil {
		c.close()
	}
	return nil
}

// walk stores every leaf below node in vars.
func (c *Client) walk(node string, vars map[string]string) error {
	children, _, err := c.conn.Children(node)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", node, err)
	}
	if len(children) == 0 {
		data, _, err := c.conn.Get(node)
		if errors.Is(err, zk.ErrNoNode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", node, err)
		}
		vars[node] = string(data)
		return nil
	}
	for _, child := range children {
		if err := c.walk(path.Join(node, child), vars); err != nil {
			return err
		}
	}
	return nil
}

// GetValues walks each key. A trailing "/*" on a key is ignored and a
// missing znode is skipped.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return vars, err
		}
		key = path.Clean("/" + strings.TrimSuffix(key, "/*"))
		if err := c.walk(key, vars); err != nil {
			return vars, err
		}
	}
	return vars, nil
}

// watchedNodes returns the znodes whose data or children cover the
// leaves in vars: every leaf plus its parents up to prefix.
func watchedNodes(prefix string, vars map[string]string) (leaves, dirs []string) {
	seen := map[string]bool{prefix: true}
	dirs = append(dirs, prefix)
	for k := range vars {
		leaves = append(leaves, k)
		for dir := path.Dir(k); strings.HasPrefix(dir, prefix) && !seen[dir]; dir = path.Dir(dir) {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return leaves, dirs
}

// WatchPrefix returns 1 immediately for waitIndex 0 so the first pass
// renders without waiting. Later calls set one-shot watches on the
// leaves below prefix and their parent znodes, and return waitIndex+1 on
// the first data or children change.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	if waitIndex == 0 {
		return 1, nil
	}
	prefix = path.Clean("/" + prefix)

	vars := make(map[string]string)
	if err := c.walk(prefix, vars); err != nil {
		return waitIndex, err
	}
	leaves, dirs := watchedNodes(prefix, vars)

	events := make(chan zk.Event, 1)
	done := make(chan struct{})
	defer close(done)
	forward := func(ch <-chan zk.Event) {
		go func() {
			select {
			case e := <-ch:
				select {
				case events <- e:
				case <-done:
				}
			case <-done:
			}
		}()
	}

	for _, dir := range dirs {
		_, _, ch, err := c.conn.ChildrenW(dir)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return waitIndex, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		forward(ch)
	}
	for _, leaf := range leaves {
		_, _, ch, err := c.conn.GetW(leaf)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return waitIndex, fmt.Errorf("failed to watch %s: %w", leaf, err)
		}
		forward(ch)
	}

	select {
	case e := <-events:
		if e.Err != nil {
			return waitIndex, e.Err
		}
		log.Debug("ZooKeeper event %s on %s", e.Type, e.Path)
		return waitIndex + 1, nil
	case <-stopChan:
		return waitIndex, nil
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	}
}

// HealthCheck checks that the root znode can be read.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "zookeeper")
	_, _, err := c.conn.Exists("/")
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
