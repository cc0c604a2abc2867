package vaultclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// Client implements interfaces.VaultClient with the official Vault API client.
type Client struct {
	server interfaces.ServerConfig
	api    *api.Client
	log    *slog.Logger
}

// New creates an unauthenticated client for server.
func New(server interfaces.ServerConfig, log *slog.Logger) (*Client, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to read Vault client defaults: %w", cfg.Error)
	}
	cfg.Address = server.URL
	cfg.Timeout = 30 * time.Second

	switch server.Verify {
	case "":
	case "false":
		if err := cfg.ConfigureTLS(&api.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	default:
		if err := cfg.ConfigureTLS(&api.TLSConfig{CACert: server.Verify}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	// api.NewClient picks up VAULT_TOKEN, tokens are always passed per request here
	client.ClearToken()
	if server.Namespace != "" {
		client.SetNamespace(server.Namespace)
	}

	return &Client{server: server, api: client, log: log}, nil
}

// Builder returns a VaultClientBuilder creating Clients.
func Builder(log *slog.Logger) interfaces.VaultClientBuilder {
	return func(server interfaces.ServerConfig) (interfaces.VaultClient, error) {
		return New(server, log)
	}
}

func (c *Client) ServerConfig() interfaces.ServerConfig {
	return c.server
}

// API exposes the underlying API client for callers needing endpoints not
// covered by interfaces.VaultClient.
func (c *Client) API() *api.Client {
	return c.api
}

func (c *Client) Login(ctx context.Context, mount string, payload map[string]any) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodPost, "", "auth/"+mount+"/login", payload)
	if err != nil {
		return nil, err
	}
	auth, ok := body["auth"].(map[string]any)
	if !ok {
		return nil, interfaces.ExecutionErrorf("login to %s returned no auth data", mount)
	}
	return auth, nil
}

func (c *Client) LookupToken(ctx context.Context, token string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, token, "auth/token/lookup-self", nil)
	if err != nil {
		return nil, err
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		return nil, interfaces.ExecutionErrorf("token lookup returned no data")
	}
	return data, nil
}

func (c *Client) RenewSelf(ctx context.Context, token string, increment int) (map[string]any, error) {
	payload := map[string]any{}
	if increment > 0 {
		payload["increment"] = increment
	}
	body, err := c.do(ctx, http.MethodPost, token, "auth/token/renew-self", payload)
	if err != nil {
		return nil, err
	}
	auth, ok := body["auth"].(map[string]any)
	if !ok {
		return nil, interfaces.ExecutionErrorf("token renewal returned no auth data")
	}
	return auth, nil
}

// Unwrap resolves wrapToken. With a non-empty expectedCreationPath the
// wrapping token is looked up first and rejected with ErrPermissionDenied
// unless its creation path matches the pattern exactly.
func (c *Client) Unwrap(ctx context.Context, wrapToken string, expectedCreationPath string) (*interfaces.UnwrappedSecret, error) {
	if expectedCreationPath != "" {
		if err := c.checkCreationPath(ctx, wrapToken, expectedCreationPath); err != nil {
			return nil, err
		}
	}

	body, err := c.do(ctx, http.MethodPost, wrapToken, "sys/wrapping/unwrap", nil)
	if err != nil {
		return nil, err
	}

	secret := &interfaces.UnwrappedSecret{}
	secret.Auth, _ = body["auth"].(map[string]any)
	secret.Data, _ = body["data"].(map[string]any)
	if secret.Auth == nil && secret.Data == nil {
		return nil, interfaces.ExecutionErrorf("unwrapped response carries neither auth nor data")
	}
	return secret, nil
}

func (c *Client) checkCreationPath(ctx context.Context, wrapToken, expected string) error {
	body, err := c.do(ctx, http.MethodPost, "", "sys/wrapping/lookup", map[string]any{"token": wrapToken})
	if err != nil {
		return err
	}
	data, _ := body["data"].(map[string]any)
	actual, _ := data["creation_path"].(string)

	matches, err := CreationPathMatches(expected, actual)
	if err != nil {
		return err
	}
	if !matches {
		c.log.Warn("Wrapped response was not created from the expected path",
			slog.String("expected", expected),
			slog.String("actual", actual),
			slog.String("url", c.server.URL))
		return fmt.Errorf("%w: wrapped response was created at %q, expected %q", interfaces.ErrPermissionDenied, actual, expected)
	}
	return nil
}

// CreationPathMatches reports whether actual fully matches the pattern expected.
func CreationPathMatches(expected, actual string) (bool, error) {
	re, err := regexp.Compile("^(?:" + expected + ")$")
	if err != nil {
		return false, fmt.Errorf("invalid creation path pattern %q: %w", expected, err)
	}
	return re.MatchString(actual), nil
}

// Read issues a GET. A 404 returns a nil map without error.
func (c *Client) Read(ctx context.Context, token string, path string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, token, path, nil)
}

func (c *Client) Write(ctx context.Context, token string, path string, data map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, token, path, data)
}

func (c *Client) WriteWrapped(ctx context.Context, token string, path string, data map[string]any, wrapTTL string) (map[string]any, error) {
	return c.doWrapped(ctx, http.MethodPost, token, path, data, wrapTTL)
}

func (c *Client) do(ctx context.Context, method, token, path string, payload map[string]any) (map[string]any, error) {
	return c.doWrapped(ctx, method, token, path, payload, "")
}

func (c *Client) doWrapped(ctx context.Context, method, token, path string, payload map[string]any, wrapTTL string) (map[string]any, error) {
	r := c.api.NewRequest(method, "/v1/"+path)
	r.ClientToken = token
	r.WrapTTL = wrapTTL
	if payload != nil {
		if err := r.SetJSONBody(payload); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	//nolint:staticcheck // raw requests keep the complete response body
	resp, err := c.api.RawRequestWithContext(ctx, r)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if method == http.MethodGet && isNotFound(err) {
			return nil, nil
		}
		c.log.Debug("Vault request failed",
			slog.String("method", method),
			slog.String("path", path),
			"err", err)
		return nil, Classify(err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return map[string]any{}, nil
	}

	body := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, interfaces.ExecutionErrorf("failed to decode response from %s: %v", path, err)
	}
	return body, nil
}
