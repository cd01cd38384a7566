// Package file reads properties from YAML, JSON, TOML and .properties
// files. Nested maps and lists are flattened into slash-separated keys,
// so {app: {ports: [80, 443]}} yields /app/ports/0 and /app/ports/1.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/propfile"
	"github.com/abtreece/propsort/pkg/sources/types"
	"github.com/abtreece/propsort/pkg/util"
)

// Client reads a set of files or directories.
type Client struct {
	paths  []string
	filter string
}

// New returns a Client for paths. Directories are walked and only files
// whose name matches filter are read; an empty filter matches all.
func New(paths []string, filter string) (*Client, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files configured")
	}
	if filter == "" {
		filter = "*"
	}
	return &Client{paths: paths, filter: filter}, nil
}

// pathSetter stores dotted .properties keys as slash paths.
type pathSetter map[string]string

func (p pathSetter) Set(key, value string) {
	p[path.Join("/", strings.ReplaceAll(key, ".", "/"))] = value
}

func readFile(name string, vars map[string]string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", name, err)
	}

	fileMap := make(map[string]any)
	switch ext := filepath.Ext(name); ext {
	case ".json":
		err = json.Unmarshal(data, &fileMap)
	case "", ".yml", ".yaml":
		err = yaml.Unmarshal(data, &fileMap)
	case ".toml":
		err = toml.Unmarshal(data, &fileMap)
	case ".properties":
		return propfile.Decode(bytes.NewReader(data), pathSetter(vars))
	default:
		return fmt.Errorf("invalid file extension %q for %s: YAML, JSON, TOML or .properties only", ext, name)
	}
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	nodeWalk(fileMap, "/", vars)
	return nil
}

// nodeWalk recursively descends node, storing leaves in vars.
func nodeWalk(node any, key string, vars map[string]string) {
	switch n := node.(type) {
	case []any:
		for i, v := range n {
			nodeWalk(v, path.Join(key, strconv.Itoa(i)), vars)
		}
	case []map[string]any:
		for i, v := range n {
			nodeWalk(v, path.Join(key, strconv.Itoa(i)), vars)
		}
	case map[string]any:
		for k, v := range n {
			nodeWalk(v, path.Join(key, k), vars)
		}
	case string:
		vars[key] = n
	case int:
		vars[key] = strconv.Itoa(n)
	case int64:
		vars[key] = strconv.FormatInt(n, 10)
	case uint64:
		vars[key] = strconv.FormatUint(n, 10)
	case bool:
		vars[key] = strconv.FormatBool(n)
	case float64:
		vars[key] = strconv.FormatFloat(n, 'f', -1, 64)
	case time.Time:
		vars[key] = n.Format(time.RFC3339)
	case nil:
		vars[key] = ""
	default:
		vars[key] = fmt.Sprint(n)
	}
}

func matchesAnyPrefix(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// GetValues reads every configured file and returns the pairs below one
// of keys. Later files override earlier ones.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	var files []string
	for _, p := range c.paths {
		found, err := util.RecursiveFilesLookup(p, c.filter)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup files in %s: %w", p, err)
		}
		files = append(files, found...)
	}

	vars := make(map[string]string)
	for _, f := range files {
		if err := readFile(f, vars); err != nil {
			return nil, err
		}
	}
	for k := range vars {
		if !matchesAnyPrefix(k, keys) {
			delete(vars, k)
		}
	}
	log.Debug("Key Map: %#v", vars)
	return vars, nil
}

// WatchPrefix returns 1 immediately on the first call, then blocks until
// a configured file is written, created or removed.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	if waitIndex == 0 {
		return 1, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range c.paths {
		isDir, err := util.IsDirectory(p)
		if err != nil {
			return 0, err
		}
		dirs := []string{p}
		if isDir {
			if dirs, err = util.RecursiveDirsLookup(p, "*"); err != nil {
				return 0, err
			}
		}
		for _, d := range dirs {
			if err := watcher.Add(d); err != nil {
				return 0, fmt.Errorf("failed to watch %s: %w", d, err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return waitIndex, ctx.Err()
		case <-stopChan:
			return waitIndex, nil
		case err := <-watcher.Errors:
			return 0, err
		case event := <-watcher.Events:
			log.Debug("Event: %s", event)
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				return waitIndex + 1, nil
			}
		}
	}
}

// HealthCheck checks that every configured path exists and every file is
// readable.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "file", "path_count", len(c.paths))

	if _, err := c.check(); err != nil {
		logger.ErrorContext(ctx, "Source health check failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
		return err
	}
	logger.DebugContext(ctx, "Source health check passed",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

type checkStats struct {
	files int
	size  int64
}

func (c *Client) check() (checkStats, error) {
	var st checkStats
	for _, p := range c.paths {
		fi, err := os.Stat(p)
		if err != nil {
			return st, fmt.Errorf("file not accessible: %s: %w", p, err)
		}
		if fi.IsDir() {
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			return st, fmt.Errorf("file not readable: %s: %w", p, err)
		}
		f.Close()
		st.files++
		st.size += fi.Size()
	}
	return st, nil
}

// HealthCheckDetailed reports file counts and sizes.
func (c *Client) HealthCheckDetailed(ctx context.Context) (*types.HealthResult, error) {
	start := time.Now()
	st, err := c.check()
	result := &types.HealthResult{
		Healthy:   err == nil,
		Message:   "all configured files are accessible and readable",
		Duration:  types.DurationMillis(time.Since(start)),
		CheckedAt: time.Now(),
		Details: map[string]string{
			"file_count":       strconv.Itoa(st.files),
			"total_size_bytes": strconv.FormatInt(st.size, 10),
			"paths":            strings.Join(c.paths, ", "),
		},
	}
	if err != nil {
		result.Message = err.Error()
		result.Details["error"] = err.Error()
	}
	return result, err
}
