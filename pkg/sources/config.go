package sources

import (
	"time"

	"github.com/abtreece/propsort/pkg/util"
)

// Default connection settings applied by ApplyTimeoutDefaults.
const (
	DefaultDialTimeout      = 5 * time.Second
	DefaultReadTimeout      = 3 * time.Second
	DefaultWriteTimeout     = 3 * time.Second
	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 100 * time.Millisecond
	DefaultRetryMaxDelay    = 5 * time.Second
	DefaultIMDSCacheTTL     = 60 * time.Second
)

// Config holds the settings used to connect to a source.
type Config struct {
	Source         string     `toml:"source"`
	Nodes          util.Nodes `toml:"nodes"`
	Scheme         string     `toml:"scheme"`
	ClientCert     string     `toml:"client_cert"`
	ClientKey      string     `toml:"client_key"`
	ClientCaKeys   string     `toml:"client_cakeys"`
	ClientInsecure bool       `toml:"client_insecure"`
	BasicAuth      bool       `toml:"basic_auth"`
	Username       string     `toml:"username"`
	Password       string     `toml:"password"`
	Separator      string     `toml:"separator"`
	Files          util.Nodes `toml:"file"`
	Filter         string     `toml:"filter"`
	Table          string     `toml:"table"`

	// Vault login
	AuthType  string `toml:"auth_type"`
	AuthToken string `toml:"auth_token"`
	AuthPath  string `toml:"path"`
	AppID     string `toml:"app_id"`
	UserID    string `toml:"user_id"`
	RoleID    string `toml:"role_id"`
	SecretID  string `toml:"secret_id"`

	SecretsManagerVersionStage string `toml:"secretsmanager_version_stage"`
	SecretsManagerNoFlatten    bool   `toml:"secretsmanager_no_flatten"`

	DialTimeout      time.Duration `toml:"dial_timeout"`
	ReadTimeout      time.Duration `toml:"read_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
	RetryMaxAttempts int           `toml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `toml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `toml:"retry_max_delay"`
	IMDSCacheTTL     time.Duration `toml:"imds_cache_ttl"`
}

// ApplyTimeoutDefaults fills zero timeout and retry settings.
func (c *Config) ApplyTimeoutDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.IMDSCacheTTL == 0 {
		c.IMDSCacheTTL = DefaultIMDSCacheTTL
	}
}
