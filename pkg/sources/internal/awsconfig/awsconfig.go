// Package awsconfig loads the AWS configuration shared by the AWS
// backed sources.
package awsconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/abtreece/propsort/pkg/log"
)

// DefaultTimeout bounds the region lookup when no dial timeout is set.
const DefaultTimeout = 2 * time.Second

// ErrNoCredentials is returned by Load when the credential chain yields
// no keys.
var ErrNoCredentials = errors.New("no AWS credentials found")

// ResolveRegion prefers AWS_REGION and falls back to the instance
// metadata service. An empty result leaves region selection to the SDK.
func ResolveRegion(ctx context.Context, timeout time.Duration) string {
	if region := os.Getenv("AWS_REGION"); region != "" {
		return region
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := imds.New(imds.Options{}).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		log.Debug("Region lookup from instance metadata failed: %v", err)
		return ""
	}
	return out.Region
}

// Load reads the default AWS configuration and fails early when no
// credentials are available.
func Load(ctx context.Context, timeout time.Duration) (aws.Config, error) {
	var optFns []func(*config.LoadOptions) error
	if region := ResolveRegion(ctx, timeout); region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Debug("Region: %s", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return cfg, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	if !creds.HasKeys() {
		return cfg, ErrNoCredentials
	}
	return cfg, nil
}

// LocalEndpoint returns the endpoint named by <SERVICE>_ENDPOINT_URL when
// <SERVICE>_LOCAL is set, and "" otherwise.
func LocalEndpoint(service string) string {
	service = strings.ToUpper(service)
	if os.Getenv(service+"_LOCAL") == "" {
		return ""
	}
	endpoint := os.Getenv(service + "_ENDPOINT_URL")
	log.Debug("Using local %s endpoint %s", strings.ToLower(service), endpoint)
	return endpoint
}
