// Package vault reads properties from HashiCorp Vault KV secrets
// engines, version 1 and 2. Each field of a secret becomes a key below
// the secret's path: field user of secret/app/db is read as
// /secret/app/db/user.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/abtreece/propsort/pkg/log"
)

// serviceAccountTokenPath holds the JWT used by kubernetes auth.
var serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// ErrUnsupportedEngine is returned when a key lives in a secrets engine
// other than kv.
var ErrUnsupportedEngine = errors.New("unsupported secrets engine")

type logicalAPI interface {
	ReadWithContext(ctx context.Context, path string) (*vaultapi.Secret, error)
	ListWithContext(ctx context.Context, path string) (*vaultapi.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]any) (*vaultapi.Secret, error)
}

type healthAPI interface {
	HealthWithContext(ctx context.Context) (*vaultapi.HealthResponse, error)
}

// Options configures the Vault connection and login.
type Options struct {
	Address string
	// AuthType is one of app-id, app-role, cert, github, kubernetes,
	// token or userpass.
	AuthType string
	// AuthPath overrides the auth method mount, which defaults to the
	// auth type (approle for app-role).
	AuthPath string
	Token    string
	RoleID   string
	SecretID string
	AppID    string
	UserID   string
	Username string
	Password string
	Cert     string
	Key      string
	CACert   string
	Insecure bool
	Timeout  time.Duration
}

// Client reads KV secrets.
type Client struct {
	logical logicalAPI
	sys     healthAPI
}

// New configures TLS, logs in with the configured auth method and
// returns a client holding the resulting token.
func New(opts Options) (*Client, error) {
	if opts.AuthType == "" {
		return nil, errors.New("the vault source requires an auth type")
	}
	log.Info("Vault authentication backend set to %s", opts.AuthType)

	conf := vaultapi.DefaultConfig()
	if conf.Error != nil {
		return nil, conf.Error
	}
	if opts.Address != "" {
		conf.Address = opts.Address
	}
	if opts.Timeout > 0 {
		conf.Timeout = opts.Timeout
	}
	if err := conf.ConfigureTLS(&vaultapi.TLSConfig{
		CACert:     opts.CACert,
		ClientCert: opts.Cert,
		ClientKey:  opts.Key,
		Insecure:   opts.Insecure,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure vault TLS: %w", err)
	}

	client, err := vaultapi.NewClient(conf)
	if err != nil {
		return nil, err
	}
	if opts.AuthType == "token" {
		client.SetToken(opts.Token)
	}
	token, err := login(context.Background(), client.Logical(), opts)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)
	return &Client{logical: client.Logical(), sys: client.Sys()}, nil
}

// login authenticates with the auth method named by opts.AuthType and
// returns the client token to use.
func login(ctx context.Context, lg logicalAPI, opts Options) (string, error) {
	mount := opts.AuthPath
	if mount == "" {
		mount = opts.AuthType
		if mount == "app-role" {
			mount = "approle"
		}
	}
	loginPath := "auth/" + mount + "/login"

	var data map[string]any
	switch opts.AuthType {
	case "token":
		if opts.Token == "" {
			return "", errors.New("vault token auth requires --auth-token")
		}
		if _, err := lg.ReadWithContext(ctx, "auth/token/lookup-self"); err != nil {
			return "", fmt.Errorf("vault token lookup failed: %w", err)
		}
		return opts.Token, nil
	case "app-role":
		if opts.RoleID == "" || opts.SecretID == "" {
			return "", errors.New("vault app-role auth requires --role-id and --secret-id")
		}
		data = map[string]any{"role_id": opts.RoleID, "secret_id": opts.SecretID}
	case "app-id":
		if opts.AppID == "" || opts.UserID == "" {
			return "", errors.New("vault app-id auth requires --app-id and --user-id")
		}
		data = map[string]any{"app_id": opts.AppID, "user_id": opts.UserID}
	case "github":
		if opts.Token == "" {
			return "", errors.New("vault github auth requires --auth-token")
		}
		data = map[string]any{"token": opts.Token}
	case "userpass":
		if opts.Username == "" || opts.Password == "" {
			return "", errors.New("vault userpass auth requires --username and --password")
		}
		loginPath += "/" + opts.Username
		data = map[string]any{"password": opts.Password}
	case "kubernetes":
		if opts.RoleID == "" {
			return "", errors.New("vault kubernetes auth requires --role-id")
		}
		jwt, err := os.ReadFile(serviceAccountTokenPath)
		if err != nil {
			return "", fmt.Errorf("failed to read kubernetes service account token: %w", err)
		}
		data = map[string]any{"jwt": strings.TrimSpace(string(jwt)), "role": opts.RoleID}
	case "cert":
		data = map[string]any{}
	default:
		return "", fmt.Errorf("unsupported vault auth type %q", opts.AuthType)
	}

	secret, err := lg.WriteWithContext(ctx, loginPath, data)
	if err != nil {
		return "", fmt.Errorf("vault %s login failed: %w", opts.AuthType, err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return "", fmt.Errorf("vault %s login returned no token", opts.AuthType)
	}
	log.Debug("Authenticated with vault auth backend %s", opts.AuthType)
	return secret.Auth.ClientToken, nil
}

// mount describes the KV engine a key lives in.
type mount struct {
	path    string
	version string
}

// mountFor asks Vault which mount serves key.
func (c *Client) mountFor(ctx context.Context, key string) (mount, error) {
	secret, err := c.logical.ReadWithContext(ctx, "sys/internal/ui/mounts/"+strings.TrimPrefix(key, "/"))
	if err != nil {
		return mount{}, fmt.Errorf("failed to get mount info for %s: %w", key, err)
	}
	if secret == nil || secret.Data == nil {
		return mount{}, fmt.Errorf("no mount serves %s", key)
	}
	if engine, _ := secret.Data["type"].(string); engine != "kv" {
		return mount{}, fmt.Errorf("%w %q at %s", ErrUnsupportedEngine, engine, key)
	}
	m := mount{version: "1"}
	if options, ok := secret.Data["options"].(map[string]any); ok {
		if v, ok := options["version"].(string); ok && v != "" {
			m.version = v
		}
	}
	if p, ok := secret.Data["path"].(string); ok && p != "" {
		m.path = "/" + strings.Trim(p, "/")
	} else {
		first, _, _ := strings.Cut(strings.TrimPrefix(key, "/"), "/")
		m.path = "/" + first
	}
	return m, nil
}

func (m mount) listPath(dir string) string {
	if m.version == "2" {
		return strings.TrimPrefix(m.path+"/metadata"+dir, "/") + "/"
	}
	return strings.TrimPrefix(m.path+dir, "/") + "/"
}

func (m mount) readPath(name string) string {
	if m.version == "2" {
		return strings.TrimPrefix(m.path+"/data"+name, "/")
	}
	return strings.TrimPrefix(m.path+name, "/")
}

// secrets lists every secret name below dir, relative to the mount.
func (c *Client) secrets(ctx context.Context, m mount, dir string) ([]string, error) {
	list, err := c.logical.ListWithContext(ctx, m.listPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s%s: %w", m.path, dir, err)
	}
	if list == nil || list.Data == nil {
		return nil, nil
	}
	entries, _ := list.Data["keys"].([]any)
	var names []string
	for _, e := range entries {
		name, ok := e.(string)
		if !ok {
			continue
		}
		if sub, isDir := strings.CutSuffix(name, "/"); isDir {
			more, err := c.secrets(ctx, m, dir+"/"+sub)
			if err != nil {
				return nil, err
			}
			names = append(names, more...)
			continue
		}
		names = append(names, dir+"/"+name)
	}
	return names, nil
}

// read returns the fields of one secret.
func (c *Client) read(ctx context.Context, m mount, name string) (map[string]any, error) {
	secret, err := c.logical.ReadWithContext(ctx, m.readPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s%s: %w", m.path, name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	if m.version == "2" {
		data, _ := secret.Data["data"].(map[string]any)
		return data, nil
	}
	return secret.Data, nil
}

// flatten stores value under key, descending into nested objects.
func flatten(key string, value any, vars map[string]string) {
	switch v := value.(type) {
	case string:
		vars[key] = v
	case map[string]any:
		for field, inner := range v {
			flatten(key+"/"+field, inner, vars)
		}
	case nil:
		vars[key] = ""
	case []any:
		log.Warning("Skipping vault field %s: lists are not supported", key)
	default:
		vars[key] = fmt.Sprint(v)
	}
}

func under(key, prefix string) bool {
	return prefix == "/" || key == prefix || strings.HasPrefix(key, prefix+"/")
}

// GetValues reads every secret field below each key. The secrets of a
// mount are listed once however many keys share it.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	fields := make(map[string]map[string]string)
	for _, key := range keys {
		key = path.Clean("/" + strings.TrimSuffix(key, "/*"))
		if key == "/" {
			log.Warning("Skipping vault key /: a secrets engine mount is required")
			continue
		}
		m, err := c.mountFor(ctx, key)
		if errors.Is(err, ErrUnsupportedEngine) {
			log.Error("Skipping vault key %s: %v", key, err)
			continue
		}
		if err != nil {
			return vars, err
		}
		all, ok := fields[m.path]
		if !ok {
			all, err = c.mountFields(ctx, m)
			if err != nil {
				return vars, err
			}
			fields[m.path] = all
		}
		for k, v := range all {
			if under(k, key) {
				vars[k] = v
			}
		}
	}
	return vars, nil
}

func (c *Client) mountFields(ctx context.Context, m mount) (map[string]string, error) {
	names, err := c.secrets(ctx, m, "")
	if err != nil {
		return nil, err
	}
	all := make(map[string]string)
	for _, name := range names {
		data, err := c.read(ctx, m, name)
		if err != nil {
			return nil, err
		}
		flatten(m.path+name, data, all)
	}
	return all, nil
}

// WatchPrefix is unsupported by Vault. It blocks until stopChan fires or
// ctx is done.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	select {
	case <-stopChan:
		return waitIndex, nil
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	}
}

// HealthCheck fails when Vault is unreachable, uninitialized or sealed.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "vault")
	resp, err := c.sys.HealthWithContext(ctx)
	if err == nil {
		switch {
		case !resp.Initialized:
			err = errors.New("vault is not initialized")
		case resp.Sealed:
			err = errors.New("vault is sealed")
		}
	}
	if err != nil {
		logger.ErrorContext(ctx, "Source health check failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
		return err
	}
	logger.DebugContext(ctx, "Source health check passed",
		"duration_ms", time.Since(start).Milliseconds(),
		"version", resp.Version)
	return nil
}
