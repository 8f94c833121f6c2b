// Package vault reads storage credentials from HashiCorp Vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"

	"github.com/kebairia/b2backup/internal/remote"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

var (
	// ErrClientInit indicates failure to initialize the Vault API client.
	ErrClientInit = errors.New("vault client initialization failed")
	// ErrSecretNotFound is returned when nothing is stored at a path.
	ErrSecretNotFound = errors.New("vault secret not found")
)

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

type Client struct {
	api    *vault.Client
	config *config
}

func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}
	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("%w: AppRole login: %w", ErrClientInit, err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("empty response from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// StorageCredentials reads the secret at path and decodes it over base, so
// the secret may hold only the keys while the endpoint stays in the config
// file. Both KV v1 and KV v2 (data.data) layouts are accepted.
func (c *Client) StorageCredentials(ctx context.Context, path string, base remote.Credentials) (remote.Credentials, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return remote.Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || len(secret.Data) == 0 {
		return remote.Credentials{}, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}

	creds := base
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &creds,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return remote.Credentials{}, err
	}
	if err := dec.Decode(data); err != nil {
		return remote.Credentials{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return remote.Credentials{}, fmt.Errorf("%w: %s has no access_key/secret_key", remote.ErrMissingCredentials, path)
	}
	return creds, nil
}
