package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/alecthomas/kong"

	"github.com/abtreece/propsort/pkg/sources"
)

// Defaults that the config file may override when the flag is left alone.
const (
	DefaultConfigFile      = "/etc/propsort/propsort.toml"
	DefaultDest            = "-"
	DefaultInterval        = 600
	DefaultDiffContext     = 3
	DefaultShutdownTimeout = 15 * time.Second
)

// CLI is the root command.
type CLI struct {
	ConfigFile string `name:"config-file" help:"propsort config file" default:"/etc/propsort/propsort.toml"`

	// Output
	Dest          string   `help:"properties file to write, - for stdout" default:"-"`
	Prefix        string   `help:"key path prefix, stripped from property keys"`
	Key           []string `help:"keys to read below the prefix" sep:"none"`
	KeyStyle      string   `name:"key-style" help:"property key style (dotted, path)"`
	Comment       string   `help:"header comment written above the properties"`
	Timestamp     bool     `help:"write a timestamp comment line"`
	EscapeUnicode bool     `name:"escape-unicode" help:"escape non-ASCII characters as unicode escapes"`
	Mode          string   `help:"octal file mode of the written file (default: keep existing or 0644)"`
	Noop          bool     `help:"only show pending changes"`
	KeepStageFile bool     `name:"keep-stage-file" help:"keep staged files"`

	// Diff flags
	Diff        bool `help:"show a unified diff of pending changes"`
	DiffContext int  `name:"diff-context" help:"lines of context for diff" default:"3"`
	Color       bool `help:"colorize diff output"`

	// Run mode
	Onetime  bool `help:"run once and exit"`
	Interval int  `help:"source polling interval in seconds" default:"600"`
	Watch    bool `help:"re-sync on source change notifications"`

	LogLevel  string `name:"log-level" help:"log level (debug, info, warn, error)" default:""`
	LogFormat string `name:"log-format" help:"log format (text, json)" default:""`

	MetricsAddr      string        `name:"metrics-addr" help:"address to serve /metrics and health endpoints on (e.g. :9100)"`
	SystemdNotify    bool          `name:"systemd-notify" help:"send sd_notify readiness and stopping messages"`
	WatchdogInterval time.Duration `name:"watchdog-interval" help:"systemd watchdog ping interval (0 disables)"`
	ShutdownTimeout  time.Duration `name:"shutdown-timeout" help:"graceful shutdown timeout" default:"15s"`

	// Connection tuning
	DialTimeout      time.Duration `name:"dial-timeout" help:"source connection timeout" default:"5s"`
	ReadTimeout      time.Duration `name:"read-timeout" help:"source read timeout" default:"3s"`
	WriteTimeout     time.Duration `name:"write-timeout" help:"source write timeout" default:"3s"`
	RetryMaxAttempts int           `name:"retry-max-attempts" help:"connection attempts before giving up" default:"3"`
	RetryBaseDelay   time.Duration `name:"retry-base-delay" help:"initial retry backoff" default:"100ms"`
	RetryMaxDelay    time.Duration `name:"retry-max-delay" help:"maximum retry backoff" default:"5s"`

	Version VersionFlag `help:"print version and exit"`

	// Source subcommands
	ACM            ACMCmd            `cmd:"" name:"acm" help:"Read certificates from AWS Certificate Manager"`
	Consul         ConsulCmd         `cmd:"" name:"consul" help:"Read from Consul KV"`
	DynamoDB       DynamoDBCmd       `cmd:"" name:"dynamodb" help:"Read from a DynamoDB table"`
	Env            EnvCmd            `cmd:"" name:"env" help:"Read from environment variables"`
	Etcd           EtcdCmd           `cmd:"" name:"etcd" help:"Read from etcd"`
	File           FileCmd           `cmd:"" name:"file" help:"Read from YAML, JSON, TOML or .properties files"`
	IMDS           IMDSCmd           `cmd:"" name:"imds" help:"Read from EC2 instance metadata"`
	Redis          RedisCmd          `cmd:"" name:"redis" help:"Read from Redis"`
	SecretsManager SecretsManagerCmd `cmd:"" name:"secretsmanager" help:"Read from AWS Secrets Manager"`
	SSM            SSMCmd            `cmd:"" name:"ssm" help:"Read from AWS SSM Parameter Store"`
	Vault          VaultCmd          `cmd:"" name:"vault" help:"Read from Vault KV secrets engines"`
	Zookeeper      ZookeeperCmd      `cmd:"" name:"zookeeper" help:"Read from ZooKeeper"`
}

// VersionFlag prints the version and exits.
type VersionFlag bool

func (v VersionFlag) BeforeApply(app *kong.Kong) error {
	fmt.Printf("propsort %s (Git SHA: %s, Go Version: %s)\n", Version, GitSHA, runtime.Version())
	os.Exit(0)
	return nil
}

type TLSFlags struct {
	ClientCert   string `name:"client-cert" help:"client certificate file" env:"PROPSORT_CLIENT_CERT"`
	ClientKey    string `name:"client-key" help:"client key file" env:"PROPSORT_CLIENT_KEY"`
	ClientCaKeys string `name:"client-ca-keys" help:"client CA keys" env:"PROPSORT_CLIENT_CAKEYS"`
}

type AuthFlags struct {
	BasicAuth bool   `name:"basic-auth" help:"use basic authentication"`
	Username  string `help:"authentication username"`
	Password  string `help:"authentication password"`
}

type NodeFlags struct {
	Node []string `help:"source node addresses" short:"n" sep:"none"`
}

type ConsulCmd struct {
	NodeFlags
	TLSFlags
	AuthFlags
	Scheme string `help:"URI scheme (http or https)" default:"http"`
}

func (c *ConsulCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{
		Source:       "consul",
		Nodes:        c.Node,
		Scheme:       c.Scheme,
		ClientCert:   c.ClientCert,
		ClientKey:    c.ClientKey,
		ClientCaKeys: c.ClientCaKeys,
		BasicAuth:    c.BasicAuth,
		Username:     c.Username,
		Password:     c.Password,
	})
}

type EtcdCmd struct {
	NodeFlags
	TLSFlags
	AuthFlags
	ClientInsecure bool `name:"client-insecure" help:"skip TLS certificate verification"`
}

func (e *EtcdCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{
		Source:         "etcd",
		Nodes:          e.Node,
		ClientCert:     e.ClientCert,
		ClientKey:      e.ClientKey,
		ClientCaKeys:   e.ClientCaKeys,
		ClientInsecure: e.ClientInsecure,
		BasicAuth:      e.BasicAuth,
		Username:       e.Username,
		Password:       e.Password,
	})
}

type RedisCmd struct {
	NodeFlags
	Password  string `help:"redis password"`
	Separator string `help:"separator to replace '/' in keys"`
}

func (r *RedisCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{
		Source:    "redis",
		Nodes:     r.Node,
		Password:  r.Password,
		Separator: r.Separator,
	})
}

type VaultCmd struct {
	NodeFlags
	TLSFlags
	AuthType       string `name:"auth-type" help:"auth method (app-id, app-role, cert, github, kubernetes, token, userpass)"`
	AuthToken      string `name:"auth-token" help:"token for token and github auth" env:"VAULT_TOKEN"`
	AppID          string `name:"app-id" help:"app-id for app-id auth"`
	UserID         string `name:"user-id" help:"user-id for app-id auth"`
	RoleID         string `name:"role-id" help:"role-id for app-role and kubernetes auth"`
	SecretID       string `name:"secret-id" help:"secret-id for app-role auth"`
	Path           string `help:"auth method mount path"`
	Username       string `help:"username for userpass auth"`
	Password       string `help:"password for userpass auth"`
	ClientInsecure bool   `name:"client-insecure" help:"skip TLS certificate verification"`
}

func (v *VaultCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{
		Source:         "vault",
		Nodes:          v.Node,
		ClientCert:     v.ClientCert,
		ClientKey:      v.ClientKey,
		ClientCaKeys:   v.ClientCaKeys,
		ClientInsecure: v.ClientInsecure,
		AuthType:       v.AuthType,
		AuthToken:      v.AuthToken,
		AppID:          v.AppID,
		UserID:         v.UserID,
		RoleID:         v.RoleID,
		SecretID:       v.SecretID,
		AuthPath:       v.Path,
		Username:       v.Username,
		Password:       v.Password,
	})
}

type ZookeeperCmd struct {
	NodeFlags
}

func (z *ZookeeperCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{Source: "zookeeper", Nodes: z.Node})
}

type DynamoDBCmd struct {
	Table string `help:"DynamoDB table name"`
}

func (d *DynamoDBCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{Source: "dynamodb", Table: d.Table})
}

type ACMCmd struct{}

func (a *ACMCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{Source: "acm"})
}

type SecretsManagerCmd struct {
	VersionStage string `name:"version-stage" help:"version stage to read (AWSCURRENT, AWSPREVIOUS or custom)" default:"AWSCURRENT"`
	NoFlatten    bool   `name:"no-flatten" help:"read JSON secrets as one value"`
}

func (s *SecretsManagerCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{
		Source:                     "secretsmanager",
		SecretsManagerVersionStage: s.VersionStage,
		SecretsManagerNoFlatten:    s.NoFlatten,
	})
}

type SSMCmd struct{}

func (s *SSMCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{Source: "ssm"})
}

type IMDSCmd struct {
	CacheTTL time.Duration `name:"cache-ttl" help:"how long fetched metadata is reused" default:"60s"`
}

func (i *IMDSCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{Source: "imds", IMDSCacheTTL: i.CacheTTL})
}

type EnvCmd struct{}

func (e *EnvCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{Source: "env"})
}

type FileCmd struct {
	File   []string `help:"files or directories to read" sep:"none"`
	Filter string   `help:"file name pattern for directories"`
}

func (f *FileCmd) Run(cli *CLI) error {
	return run(cli, sources.Config{
		Source: "file",
		Files:  f.File,
		Filter: f.Filter,
	})
}

// defaultNodes are used when neither a flag nor the config file names any.
var defaultNodes = map[string][]string{
	"consul":    {"127.0.0.1:8500"},
	"etcd":      {"http://127.0.0.1:2379"},
	"redis":     {"127.0.0.1:6379"},
	"vault":     {"http://127.0.0.1:8200"},
	"zookeeper": {"127.0.0.1:2181"},
}

// applyDefaultNodes fills cfg.Nodes for sources that need an address.
func applyDefaultNodes(cfg *sources.Config) {
	if len(cfg.Nodes) == 0 {
		cfg.Nodes = defaultNodes[cfg.Source]
	}
}

// validate rejects flag combinations that cannot work.
func validate(cli *CLI, cfg sources.Config) error {
	if cli.Watch && !sources.Watchable(cfg.Source) {
		return fmt.Errorf("watch mode not supported for %s source", cfg.Source)
	}
	if cfg.Source == "file" && len(cfg.Files) == 0 {
		return fmt.Errorf("file source requires at least one --file")
	}
	if cfg.Source == "dynamodb" && cfg.Table == "" {
		return fmt.Errorf("dynamodb source requires --table")
	}
	if cfg.Source == "vault" && cfg.AuthType == "" {
		return fmt.Errorf("vault source requires --auth-type")
	}
	if !cli.Onetime && !cli.Watch && cli.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", cli.Interval)
	}
	return nil
}
