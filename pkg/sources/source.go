// Package sources fetches key/value pairs from the stores propsort can
// render properties files from.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/acm"
	"github.com/abtreece/propsort/pkg/sources/consul"
	"github.com/abtreece/propsort/pkg/sources/dynamodb"
	"github.com/abtreece/propsort/pkg/sources/env"
	"github.com/abtreece/propsort/pkg/sources/etcd"
	"github.com/abtreece/propsort/pkg/sources/file"
	"github.com/abtreece/propsort/pkg/sources/imds"
	"github.com/abtreece/propsort/pkg/sources/redis"
	"github.com/abtreece/propsort/pkg/sources/secretsmanager"
	"github.com/abtreece/propsort/pkg/sources/ssm"
	"github.com/abtreece/propsort/pkg/sources/vault"
	"github.com/abtreece/propsort/pkg/sources/zookeeper"
)

// ErrInvalidSource is returned by New for an unknown source name.
var ErrInvalidSource = errors.New("invalid source")

// Source is implemented by every key/value store propsort reads from.
// Keys are slash-separated paths such as /app/db/host.
type Source interface {
	// GetValues returns every pair whose key starts with one of keys.
	GetValues(ctx context.Context, keys []string) (map[string]string, error)
	// WatchPrefix blocks until something below prefix changes after
	// waitIndex, stopChan fires or ctx is done. It returns the index to
	// wait on next time.
	WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error)
	// HealthCheck returns nil when the source is reachable.
	HealthCheck(ctx context.Context) error
}

// Names lists the supported source names.
var Names = []string{
	"acm", "consul", "dynamodb", "env", "etcd", "file", "imds",
	"redis", "secretsmanager", "ssm", "vault", "zookeeper",
}

// Watchable reports whether the named source supports WatchPrefix
// change notifications.
func Watchable(name string) bool {
	switch name {
	case "acm", "dynamodb", "imds", "secretsmanager", "ssm", "vault":
		return false
	}
	return true
}

// New creates the source named by config.Source, wrapped with metrics
// instrumentation.
func New(config Config) (Source, error) {
	config.ApplyTimeoutDefaults()

	var src Source
	var err error
	switch config.Source {
	case "acm":
		src, err = acm.New(config.DialTimeout)
	case "consul":
		log.Info("Source node(s) set to %s", strings.Join(config.Nodes, ", "))
		src, err = consul.New(config.Nodes, config.Scheme,
			config.ClientCert, config.ClientKey, config.ClientCaKeys,
			config.BasicAuth, config.Username, config.Password)
	case "dynamodb":
		log.Info("DynamoDB table set to %s", config.Table)
		src, err = dynamodb.New(config.Table, config.DialTimeout)
	case "env":
		src, err = env.New()
	case "etcd":
		log.Info("Source node(s) set to %s", strings.Join(config.Nodes, ", "))
		src, err = etcd.New(etcd.Options{
			Endpoints:   config.Nodes,
			Cert:        config.ClientCert,
			Key:         config.ClientKey,
			CACert:      config.ClientCaKeys,
			Insecure:    config.ClientInsecure,
			BasicAuth:   config.BasicAuth,
			Username:    config.Username,
			Password:    config.Password,
			DialTimeout: config.DialTimeout,
		})
	case "file":
		log.Info("Source file(s) set to %s", strings.Join(config.Files, ", "))
		src, err = file.New(config.Files, config.Filter)
	case "imds":
		src, err = imds.New(config.IMDSCacheTTL, config.DialTimeout)
	case "redis":
		log.Info("Source node(s) set to %s", strings.Join(config.Nodes, ", "))
		src, err = redis.New(redis.Options{
			Machines:     config.Nodes,
			Password:     config.Password,
			Separator:    config.Separator,
			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			Retry: redis.RetryConfig{
				MaxRetries:   config.RetryMaxAttempts,
				BaseDelay:    config.RetryBaseDelay,
				MaxDelay:     config.RetryMaxDelay,
				JitterFactor: 0.3,
			},
		})
	case "secretsmanager":
		src, err = secretsmanager.New(config.SecretsManagerVersionStage,
			config.SecretsManagerNoFlatten, config.DialTimeout)
	case "ssm":
		src, err = ssm.New(config.DialTimeout)
	case "vault":
		var address string
		if len(config.Nodes) > 0 {
			address = config.Nodes[0]
		}
		log.Info("Source node set to %s", address)
		src, err = vault.New(vault.Options{
			Address:  address,
			AuthType: config.AuthType,
			AuthPath: config.AuthPath,
			Token:    config.AuthToken,
			RoleID:   config.RoleID,
			SecretID: config.SecretID,
			AppID:    config.AppID,
			UserID:   config.UserID,
			Username: config.Username,
			Password: config.Password,
			Cert:     config.ClientCert,
			Key:      config.ClientKey,
			CACert:   config.ClientCaKeys,
			Insecure: config.ClientInsecure,
			Timeout:  config.DialTimeout,
		})
	case "zookeeper":
		log.Info("Source node(s) set to %s", strings.Join(config.Nodes, ", "))
		src, err = zookeeper.New(config.Nodes, config.DialTimeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, config.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s source: %w", config.Source, err)
	}
	return WithMetrics(config.Source, src), nil
}
