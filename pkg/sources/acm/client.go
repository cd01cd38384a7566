// Package acm reads certificates from AWS Certificate Manager. A key is
// a certificate ARN with a leading slash; the PEM certificate is read
// under the key and its chain under the key with a "_chain" suffix. The
// root key "/" reads every certificate in the account and region.
package acm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/internal/awsconfig"
)

// ChainSuffix is appended to a certificate key to name its chain.
const ChainSuffix = "_chain"

type acmAPI interface {
	GetCertificate(ctx context.Context, input *acm.GetCertificateInput, opts ...func(*acm.Options)) (*acm.GetCertificateOutput, error)
	ListCertificates(ctx context.Context, input *acm.ListCertificatesInput, opts ...func(*acm.Options)) (*acm.ListCertificatesOutput, error)
}

// Client reads issued certificates.
type Client struct {
	api acmAPI
}

// New loads the default AWS configuration. ACM_LOCAL with
// ACM_ENDPOINT_URL points the client at a local endpoint.
func New(dialTimeout time.Duration) (*Client, error) {
	cfg, err := awsconfig.Load(context.Background(), dialTimeout)
	if err != nil {
		return nil, err
	}
	var acmOpts []func(*acm.Options)
	if endpoint := awsconfig.LocalEndpoint("acm"); endpoint != "" {
		acmOpts = append(acmOpts, func(o *acm.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return &Client{api: acm.NewFromConfig(cfg, acmOpts...)}, nil
}

// list returns the ARN of every certificate.
func (c *Client) list(ctx context.Context) ([]string, error) {
	var arns []string
	paginator := acm.NewListCertificatesPaginator(c.api, &acm.ListCertificatesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return arns, fmt.Errorf("failed to list certificates: %w", err)
		}
		for _, summary := range page.CertificateSummaryList {
			arns = append(arns, aws.ToString(summary.CertificateArn))
		}
	}
	return arns, nil
}

func (c *Client) get(ctx context.Context, arn string, vars map[string]string) error {
	out, err := c.api.GetCertificate(ctx, &acm.GetCertificateInput{CertificateArn: aws.String(arn)})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		log.Warning("Certificate %s not found", arn)
		return nil
	}
	var pending *types.RequestInProgressException
	if errors.As(err, &pending) {
		log.Warning("Certificate %s is not issued yet", arn)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get certificate %s: %w", arn, err)
	}
	key := "/" + arn
	if out.Certificate != nil {
		vars[key] = aws.ToString(out.Certificate)
	}
	if out.CertificateChain != nil {
		vars[key+ChainSuffix] = aws.ToString(out.CertificateChain)
	}
	log.Debug("Retrieved certificate for ARN %s", arn)
	return nil
}

// GetValues reads the certificate named by each key.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, key := range keys {
		arn := strings.TrimPrefix(key, "/")
		var arns []string
		switch {
		case arn == "":
			all, err := c.list(ctx)
			if err != nil {
				return vars, err
			}
			arns = all
		case strings.HasPrefix(arn, "arn:"):
			arns = []string{arn}
		default:
			log.Warning("Skipping key %s: not a certificate ARN", key)
			continue
		}
		for _, a := range arns {
			if err := c.get(ctx, a, vars); err != nil {
				return vars, err
			}
		}
	}
	return vars, nil
}

// WatchPrefix is unsupported by ACM. It blocks until stopChan fires or
// ctx is done.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	select {
	case <-stopChan:
		return waitIndex, nil
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	}
}

// HealthCheck lists a single certificate.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "acm")
	_, err := c.api.ListCertificates(ctx, &acm.ListCertificatesInput{MaxItems: aws.Int32(1)})
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
