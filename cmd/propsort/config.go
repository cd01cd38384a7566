package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources"
	"github.com/abtreece/propsort/pkg/sources/secretsmanager"
)

// TOMLConfig is the layout of the propsort config file. Durations are
// strings such as "5s".
type TOMLConfig struct {
	Dest          string   `toml:"dest"`
	Prefix        string   `toml:"prefix"`
	Keys          []string `toml:"keys"`
	KeyStyle      string   `toml:"key_style"`
	Comment       string   `toml:"comment"`
	Timestamp     bool     `toml:"timestamp"`
	EscapeUnicode bool     `toml:"escape_unicode"`
	Mode          string   `toml:"mode"`
	Noop          bool     `toml:"noop"`
	KeepStageFile bool     `toml:"keep_stage_file"`
	Interval      int      `toml:"interval"`
	Watch         bool     `toml:"watch"`
	LogLevel      string   `toml:"log-level"`
	LogFormat     string   `toml:"log-format"`
	MetricsAddr   string   `toml:"metrics_addr"`

	ShutdownTimeout string `toml:"shutdown_timeout"`

	Nodes          []string `toml:"nodes"`
	Scheme         string   `toml:"scheme"`
	BasicAuth      bool     `toml:"basic_auth"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	ClientCaKeys   string   `toml:"client_cakeys"`
	ClientCert     string   `toml:"client_cert"`
	ClientKey      string   `toml:"client_key"`
	ClientInsecure bool     `toml:"client_insecure"`
	Separator      string   `toml:"separator"`
	File           []string `toml:"file"`
	Filter         string   `toml:"filter"`
	Table          string   `toml:"table"`

	AuthType  string `toml:"auth_type"`
	AuthToken string `toml:"auth_token"`
	AuthPath  string `toml:"path"`
	AppID     string `toml:"app_id"`
	UserID    string `toml:"user_id"`
	RoleID    string `toml:"role_id"`
	SecretID  string `toml:"secret_id"`

	SecretsManagerVersionStage string `toml:"secretsmanager_version_stage"`
	SecretsManagerNoFlatten    bool   `toml:"secretsmanager_no_flatten"`

	DialTimeout      string `toml:"dial_timeout"`
	ReadTimeout      string `toml:"read_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	RetryMaxAttempts int    `toml:"retry_max_attempts"`
	RetryBaseDelay   string `toml:"retry_base_delay"`
	RetryMaxDelay    string `toml:"retry_max_delay"`
	IMDSCacheTTL     string `toml:"imds_cache_ttl"`
}

// parseDuration reads a duration setting from the config file.
func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q in config file (use a duration such as 5s or 500ms): %w", name, value, err)
	}
	return d, nil
}

// overrideDuration sets *dst from value when *dst still holds def.
func overrideDuration(dst *time.Duration, def time.Duration, name, value string) error {
	if value == "" {
		return nil
	}
	d, err := parseDuration(name, value)
	if err != nil {
		return err
	}
	if *dst == def {
		*dst = d
	}
	return nil
}

func setString(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = value
	}
}

func setBool(dst *bool, value bool) {
	if value {
		*dst = true
	}
}

// loadConfigFile applies the config file under the CLI flags: a setting
// is taken from the file only when its flag was left at the default.
func loadConfigFile(cli *CLI, cfg *sources.Config) error {
	if _, err := os.Stat(cli.ConfigFile); os.IsNotExist(err) {
		log.Debug("Skipping propsort config file.")
		return nil
	}
	log.Debug("Loading %s", cli.ConfigFile)

	var t TOMLConfig
	if _, err := toml.DecodeFile(cli.ConfigFile, &t); err != nil {
		return fmt.Errorf("failed to parse %s: %w", cli.ConfigFile, err)
	}

	if cli.Dest == DefaultDest && t.Dest != "" {
		cli.Dest = t.Dest
	}
	setString(&cli.Prefix, t.Prefix)
	if len(cli.Key) == 0 && len(t.Keys) > 0 {
		cli.Key = t.Keys
	}
	setString(&cli.KeyStyle, t.KeyStyle)
	setString(&cli.Comment, t.Comment)
	setBool(&cli.Timestamp, t.Timestamp)
	setBool(&cli.EscapeUnicode, t.EscapeUnicode)
	setString(&cli.Mode, t.Mode)
	setBool(&cli.Noop, t.Noop)
	setBool(&cli.KeepStageFile, t.KeepStageFile)
	if cli.Interval == DefaultInterval && t.Interval != 0 {
		cli.Interval = t.Interval
	}
	setBool(&cli.Watch, t.Watch)
	setString(&cli.LogLevel, t.LogLevel)
	setString(&cli.LogFormat, t.LogFormat)
	setString(&cli.MetricsAddr, t.MetricsAddr)
	if err := overrideDuration(&cli.ShutdownTimeout, DefaultShutdownTimeout, "shutdown_timeout", t.ShutdownTimeout); err != nil {
		return err
	}

	if len(cfg.Nodes) == 0 && len(t.Nodes) > 0 {
		cfg.Nodes = t.Nodes
	}
	setString(&cfg.Scheme, t.Scheme)
	setBool(&cfg.BasicAuth, t.BasicAuth)
	setString(&cfg.Username, t.Username)
	setString(&cfg.Password, t.Password)
	setString(&cfg.ClientCaKeys, t.ClientCaKeys)
	setString(&cfg.ClientCert, t.ClientCert)
	setString(&cfg.ClientKey, t.ClientKey)
	setBool(&cfg.ClientInsecure, t.ClientInsecure)
	setString(&cfg.Separator, t.Separator)
	if len(cfg.Files) == 0 && len(t.File) > 0 {
		cfg.Files = t.File
	}
	setString(&cfg.Filter, t.Filter)
	setString(&cfg.Table, t.Table)
	setString(&cfg.AuthType, t.AuthType)
	setString(&cfg.AuthToken, t.AuthToken)
	setString(&cfg.AuthPath, t.AuthPath)
	setString(&cfg.AppID, t.AppID)
	setString(&cfg.UserID, t.UserID)
	setString(&cfg.RoleID, t.RoleID)
	setString(&cfg.SecretID, t.SecretID)
	if t.SecretsManagerVersionStage != "" &&
		(cfg.SecretsManagerVersionStage == "" || cfg.SecretsManagerVersionStage == secretsmanager.DefaultVersionStage) {
		cfg.SecretsManagerVersionStage = t.SecretsManagerVersionStage
	}
	setBool(&cfg.SecretsManagerNoFlatten, t.SecretsManagerNoFlatten)

	timeouts := []struct {
		dst   *time.Duration
		def   time.Duration
		name  string
		value string
	}{
		{&cli.DialTimeout, sources.DefaultDialTimeout, "dial_timeout", t.DialTimeout},
		{&cli.ReadTimeout, sources.DefaultReadTimeout, "read_timeout", t.ReadTimeout},
		{&cli.WriteTimeout, sources.DefaultWriteTimeout, "write_timeout", t.WriteTimeout},
		{&cli.RetryBaseDelay, sources.DefaultRetryBaseDelay, "retry_base_delay", t.RetryBaseDelay},
		{&cli.RetryMaxDelay, sources.DefaultRetryMaxDelay, "retry_max_delay", t.RetryMaxDelay},
		{&cfg.IMDSCacheTTL, sources.DefaultIMDSCacheTTL, "imds_cache_ttl", t.IMDSCacheTTL},
	}
	for _, d := range timeouts {
		if err := overrideDuration(d.dst, d.def, d.name, d.value); err != nil {
			return err
		}
	}
	if t.RetryMaxAttempts != 0 && cli.RetryMaxAttempts == sources.DefaultRetryMaxAttempts {
		cli.RetryMaxAttempts = t.RetryMaxAttempts
	}
	return nil
}

// processEnv fills TLS settings from PROPSORT_CLIENT_* variables when
// neither a flag nor the config file set them.
func processEnv(cfg *sources.Config) {
	setString(&cfg.ClientCaKeys, os.Getenv("PROPSORT_CLIENT_CAKEYS"))
	setString(&cfg.ClientCert, os.Getenv("PROPSORT_CLIENT_CERT"))
	setString(&cfg.ClientKey, os.Getenv("PROPSORT_CLIENT_KEY"))
}

// applyConnectionFlags copies the connection tuning flags into cfg.
func applyConnectionFlags(cli *CLI, cfg *sources.Config) {
	cfg.DialTimeout = cli.DialTimeout
	cfg.ReadTimeout = cli.ReadTimeout
	cfg.WriteTimeout = cli.WriteTimeout
	cfg.RetryMaxAttempts = cli.RetryMaxAttempts
	cfg.RetryBaseDelay = cli.RetryBaseDelay
	cfg.RetryMaxDelay = cli.RetryMaxDelay
}
