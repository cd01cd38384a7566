// Package secretsmanager reads properties from AWS Secrets Manager.
//
// A key names a secret: /app/db reads the secret "app/db". A JSON object
// secret is flattened into one key per field (/app/db/host), unless
// flattening is disabled. A key naming a field of a JSON secret, such as
// /app/db/host when only "app/db" exists, reads that field.
package secretsmanager

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/internal/awsconfig"
)

// DefaultVersionStage is read when no version stage is configured.
const DefaultVersionStage = "AWSCURRENT"

const healthCheckSecret = "propsort-health-check-nonexistent"

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Client reads secrets at one version stage.
type Client struct {
	api          secretsManagerAPI
	versionStage string
	noFlatten    bool
}

// New loads the default AWS configuration. SECRETSMANAGER_LOCAL with
// SECRETSMANAGER_ENDPOINT_URL points the client at a local endpoint.
func New(versionStage string, noFlatten bool, dialTimeout time.Duration) (*Client, error) {
	cfg, err := awsconfig.Load(context.Background(), dialTimeout)
	if err != nil {
		return nil, err
	}
	var smOpts []func(*secretsmanager.Options)
	if endpoint := awsconfig.LocalEndpoint("secretsmanager"); endpoint != "" {
		smOpts = append(smOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return newClient(secretsmanager.NewFromConfig(cfg, smOpts...), versionStage, noFlatten), nil
}

func newClient(api secretsManagerAPI, versionStage string, noFlatten bool) *Client {
	if versionStage == "" {
		versionStage = DefaultVersionStage
	}
	if noFlatten {
		log.Debug("JSON flattening disabled")
	}
	return &Client{api: api, versionStage: versionStage, noFlatten: noFlatten}
}

// secret is a fetched secret value; a nil *secret means not found.
type secret struct {
	text   *string
	binary []byte
}

// fetcher caches lookups for the duration of one GetValues call.
type fetcher struct {
	c     *Client
	cache map[string]*secret
}

func (f *fetcher) get(ctx context.Context, name string) (*secret, error) {
	if s, ok := f.cache[name]; ok {
		return s, nil
	}
	out, err := f.c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(name),
		VersionStage: aws.String(f.c.versionStage),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		log.Debug("Secret not found: %s", name)
		f.cache[name] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	s := &secret{text: out.SecretString, binary: out.SecretBinary}
	f.cache[name] = s
	return s, nil
}

// object decodes a JSON object secret, reporting false for anything else.
func (s *secret) object() (map[string]any, bool) {
	if s == nil || s.text == nil {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(*s.text)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func (s *secret) value() string {
	if s.text != nil {
		return *s.text
	}
	return base64.StdEncoding.EncodeToString(s.binary)
}

// flatten stores value under key, descending into nested objects.
func flatten(key string, value any, vars map[string]string) {
	switch v := value.(type) {
	case map[string]any:
		for field, inner := range v {
			flatten(key+"/"+field, inner, vars)
		}
	case string:
		vars[key] = v
	case nil:
		vars[key] = ""
	case []any:
		b, _ := json.Marshal(v)
		vars[key] = string(b)
	default:
		vars[key] = fmt.Sprint(v)
	}
}

// lookup descends into obj along the slash-separated field path.
func lookup(obj map[string]any, fields string) (any, bool) {
	var cur any = obj
	for field := range strings.SplitSeq(fields, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[field]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetValues reads the secret named by each key. Secrets are fetched at
// most once per call.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	f := &fetcher{c: c, cache: make(map[string]*secret)}
	for _, key := range keys {
		name := strings.Trim(key, "/")
		if name == "" {
			log.Warning("Skipping key %s: it names no secret", key)
			continue
		}
		key = "/" + name
		s, err := f.get(ctx, name)
		if err != nil {
			return vars, err
		}
		if s != nil {
			if obj, ok := s.object(); ok && !c.noFlatten {
				flatten(key, obj, vars)
			} else {
				vars[key] = s.value()
			}
			continue
		}
		if c.noFlatten {
			continue
		}

		parts := strings.Split(name, "/")
		for i := len(parts) - 1; i > 0; i-- {
			parent, err := f.get(ctx, strings.Join(parts[:i], "/"))
			if err != nil {
				return vars, err
			}
			obj, ok := parent.object()
			if !ok {
				continue
			}
			if v, ok := lookup(obj, strings.Join(parts[i:], "/")); ok {
				flatten(key, v, vars)
				break
			}
		}
	}
	return vars, nil
}

// WatchPrefix is unsupported by Secrets Manager. It blocks until
// stopChan fires or ctx is done.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	select {
	case <-stopChan:
		return waitIndex, nil
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	}
}

// HealthCheck requests a secret that does not exist. A not-found answer
// proves credentials and connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "secretsmanager")
	_, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(healthCheckSecret),
	})
	var notFound *types.ResourceNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		logger.ErrorContext(ctx, "Source health check failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
		return err
	}
	logger.DebugContext(ctx, "Source health check passed",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
