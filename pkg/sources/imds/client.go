// Package imds reads EC2 instance metadata as properties. Keys are rooted
// at the metadata category: /meta-data/placement/region,
// /dynamic/instance-identity/document, /user-data.
package imds

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/types"
)

const (
	categoryMeta    = "meta-data"
	categoryDynamic = "dynamic"
	categoryUser    = "user-data"
)

type imdsAPI interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
	GetDynamicData(ctx context.Context, params *imds.GetDynamicDataInput, optFns ...func(*imds.Options)) (*imds.GetDynamicDataOutput, error)
	GetUserData(ctx context.Context, params *imds.GetUserDataInput, optFns ...func(*imds.Options)) (*imds.GetUserDataOutput, error)
}

type cacheEntry struct {
	values  map[string]string
	fetched time.Time
}

// cache holds walked subtrees by requested path.
type cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *cache) get(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetched) > c.ttl {
		return nil, false
	}
	return e.values, true
}

func (c *cache) set(key string, values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{values: values, fetched: c.now()}
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Client reads from the instance metadata service.
type Client struct {
	api   imdsAPI
	cache *cache
}

// New connects to the metadata service and verifies it answers. The
// IMDS_ENDPOINT environment variable overrides the endpoint, for testing
// against a local mock only.
func New(cacheTTL, dialTimeout time.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	api := imds.NewFromConfig(cfg, func(o *imds.Options) {
		if endpoint := os.Getenv("IMDS_ENDPOINT"); endpoint != "" {
			o.Endpoint = endpoint
		}
	})
	return newWithAPI(ctx, api, cacheTTL)
}

func newWithAPI(ctx context.Context, api imdsAPI, cacheTTL time.Duration) (*Client, error) {
	c := &Client{api: api, cache: newCache(cacheTTL)}
	if _, err := c.fetch(ctx, categoryMeta, ""); err != nil {
		return nil, fmt.Errorf("IMDS not available: %w", err)
	}
	log.Info("Connected to EC2 instance metadata service")
	return c, nil
}

// split maps a key onto a category and a path inside it. Bare paths fall
// under meta-data; a leading latest/ is ignored.
func split(key string) (category, p string) {
	p = strings.Trim(key, "/")
	p = strings.TrimPrefix(p, "latest/")
	for _, cat := range []string{categoryMeta, categoryDynamic, categoryUser} {
		if p == cat {
			return cat, ""
		}
		if rest, ok := strings.CutPrefix(p, cat+"/"); ok {
			return cat, rest
		}
	}
	return categoryMeta, p
}

// GetValues walks each key's subtree. Results are cached for the
// configured TTL. A key that cannot be read is logged and skipped.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, key := range keys {
		category, p := split(key)
		id := category + "/" + p
		if values, ok := c.cache.get(id); ok {
			log.Debug("Cache hit for %s", id)
			maps.Copy(vars, values)
			continue
		}
		values := make(map[string]string)
		if err := c.walk(ctx, category, p, values); err != nil {
			log.Error("Failed to fetch instance metadata for %s: %v", key, err)
			continue
		}
		c.cache.set(id, values)
		maps.Copy(vars, values)
	}
	return vars, nil
}

func fullKey(category, p string) string {
	if p == "" {
		return "/" + category
	}
	return "/" + category + "/" + p
}

// walk stores every leaf under p in out. A response is a directory
// listing when it spans lines or names a single subdirectory.
func (c *Client) walk(ctx context.Context, category, p string, out map[string]string) error {
	content, err := c.fetch(ctx, category, p)
	if err != nil {
		return err
	}
	if category == categoryUser || !(strings.Contains(content, "\n") || strings.HasSuffix(content, "/")) {
		out[fullKey(category, p)] = content
		return nil
	}
	for _, entry := range strings.Split(strings.TrimSpace(content), "\n") {
		entry = strings.TrimSuffix(strings.TrimSpace(entry), "/")
		if entry == "" {
			continue
		}
		child := entry
		if p != "" {
			child = p + "/" + entry
		}
		if err := c.walk(ctx, category, child, out); err != nil {
			log.Debug("Failed to fetch %s: %v", fullKey(category, child), err)
		}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, category, p string) (string, error) {
	var body io.ReadCloser
	switch category {
	case categoryMeta:
		out, err := c.api.GetMetadata(ctx, &imds.GetMetadataInput{Path: p})
		if err != nil {
			return "", fmt.Errorf("failed to get metadata %s: %w", p, err)
		}
		body = out.Content
	case categoryDynamic:
		out, err := c.api.GetDynamicData(ctx, &imds.GetDynamicDataInput{Path: p})
		if err != nil {
			return "", fmt.Errorf("failed to get dynamic data %s: %w", p, err)
		}
		body = out.Content
	case categoryUser:
		out, err := c.api.GetUserData(ctx, &imds.GetUserDataInput{})
		if err != nil {
			return "", fmt.Errorf("failed to get user data: %w", err)
		}
		body = out.Content
	default:
		return "", fmt.Errorf("unknown metadata category %q", category)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read %s response: %w", category, err)
	}
	return string(data), nil
}

// WatchPrefix is unsupported. It blocks until stopChan fires or ctx is
// done.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	select {
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	case <-stopChan:
		return waitIndex, nil
	}
}

// HealthCheck lists the root metadata categories.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.fetch(ctx, categoryMeta, ""); err != nil {
		return fmt.Errorf("IMDS health check failed: %w", err)
	}
	return nil
}

// HealthCheckDetailed adds cache statistics to HealthCheck.
func (c *Client) HealthCheckDetailed(ctx context.Context) (*types.HealthResult, error) {
	start := time.Now()
	result := &types.HealthResult{
		Healthy:   true,
		Message:   "IMDS available",
		CheckedAt: start,
		Details: map[string]string{
			"cache_entries": strconv.Itoa(c.cache.len()),
			"cache_ttl":     c.cache.ttl.String(),
		},
	}
	if _, err := c.fetch(ctx, categoryMeta, ""); err != nil {
		result.Healthy = false
		result.Message = fmt.Sprintf("IMDS unavailable: %v", err)
	}
	result.Duration = types.DurationMillis(time.Since(start))
	return result, nil
}
