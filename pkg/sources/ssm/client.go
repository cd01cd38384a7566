// Package ssm reads properties from AWS Systems Manager Parameter Store.
package ssm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/internal/awsconfig"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, input *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, input *ssm.GetParametersByPathInput, opts ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// Client reads parameters, decrypting SecureString values.
type Client struct {
	api ssmAPI
}

// New loads the default AWS configuration and fails early when no
// credentials are available. SSM_LOCAL with SSM_ENDPOINT_URL points the
// client at a local endpoint.
func New(dialTimeout time.Duration) (*Client, error) {
	cfg, err := awsconfig.Load(context.Background(), dialTimeout)
	if err != nil {
		return nil, err
	}

	var ssmOpts []func(*ssm.Options)
	if endpoint := awsconfig.LocalEndpoint("ssm"); endpoint != "" {
		ssmOpts = append(ssmOpts, func(o *ssm.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return &Client{api: ssm.NewFromConfig(cfg, ssmOpts...)}, nil
}

// GetValues reads every parameter below each key. A key with no
// parameters below it is read as a single parameter; a missing parameter
// is skipped.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, key := range keys {
		params, err := c.byPath(ctx, key)
		if err != nil {
			return vars, err
		}
		if len(params) == 0 {
			params, err = c.single(ctx, key)
			var notFound *types.ParameterNotFound
			if err != nil && !errors.As(err, &notFound) {
				return vars, err
			}
		}
		maps.Copy(vars, params)
	}
	return vars, nil
}

func (c *Client) byPath(ctx context.Context, path string) (map[string]string, error) {
	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(c.api, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return params, fmt.Errorf("failed to list parameters under %s: %w", path, err)
		}
		for _, p := range page.Parameters {
			params[aws.ToString(p.Name)] = aws.ToString(p.Value)
		}
	}
	return params, nil
}

func (c *Client) single(ctx context.Context, name string) (map[string]string, error) {
	resp, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{aws.ToString(resp.Parameter.Name): aws.ToString(resp.Parameter.Value)}, nil
}

// WatchPrefix is unsupported by Parameter Store. It blocks until stopChan
// fires or ctx is done.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	select {
	case <-stopChan:
		return waitIndex, nil
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	}
}

// HealthCheck lists one parameter at the root, which fails when
// credentials or connectivity are broken.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "ssm")
	_, err := c.api.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:       aws.String("/"),
		Recursive:  aws.Bool(false),
		MaxResults: aws.Int32(1),
	})
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
