package vaultclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/vault-session-broker/auth"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// AuthenticatedClient issues Vault requests authenticated by an auth.Strategy.
type AuthenticatedClient struct {
	base interfaces.VaultClient
	auth auth.Strategy
	log  *slog.Logger

	renewMaxElapsed time.Duration
}

// NewAuthenticated binds base to strategy.
func NewAuthenticated(base interfaces.VaultClient, strategy auth.Strategy, log *slog.Logger) *AuthenticatedClient {
	return &AuthenticatedClient{
		base:            base,
		auth:            strategy,
		log:             log,
		renewMaxElapsed: 10 * time.Second,
	}
}

// Auth returns the strategy authenticating the client.
func (c *AuthenticatedClient) Auth() auth.Strategy {
	return c.auth
}

// ServerConfig returns the server the client talks to.
func (c *AuthenticatedClient) ServerConfig() interfaces.ServerConfig {
	return c.base.ServerConfig()
}

// Unauthenticated returns the underlying client, used for unwrapping and
// token lookups.
func (c *AuthenticatedClient) Unauthenticated() interfaces.VaultClient {
	return c.base
}

// TokenValid reports whether the client can authenticate requests for at
// least validFor. With remote set the token is additionally looked up, which
// catches revoked tokens.
func (c *AuthenticatedClient) TokenValid(ctx context.Context, validFor time.Duration, remote bool) bool {
	if !c.auth.IsValid(validFor) {
		return false
	}
	if !remote {
		return true
	}

	token := c.auth.CurrentToken()
	if token == nil {
		return false
	}
	if _, err := c.base.LookupToken(ctx, token.ID); err != nil {
		c.log.Debug("Remote token lookup failed", "err", err)
		return false
	}
	return true
}

// TokenRenew renews the current token by increment. Forbidden responses are
// not retried.
func (c *AuthenticatedClient) TokenRenew(ctx context.Context, increment config.RenewIncrement) error {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}

	var renewed map[string]any
	op := func() error {
		renewed, err = c.base.RenewSelf(ctx, token, increment.Seconds())
		if errors.Is(err, interfaces.ErrPermissionDenied) {
			return backoff.Permanent(err)
		}
		return err
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 250 * time.Millisecond
	strategy.MaxElapsedTime = c.renewMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(strategy, ctx)); err != nil {
		return fmt.Errorf("failed to renew token: %w", err)
	}

	return c.auth.UpdateToken(ctx, renewed)
}

// Read issues an authenticated GET against path.
func (c *AuthenticatedClient) Read(ctx context.Context, path string) (map[string]any, error) {
	return c.request(ctx, func(token string) (map[string]any, error) {
		return c.base.Read(ctx, token, path)
	})
}

// Write issues an authenticated POST against path.
func (c *AuthenticatedClient) Write(ctx context.Context, path string, data map[string]any) (map[string]any, error) {
	return c.request(ctx, func(token string) (map[string]any, error) {
		return c.base.Write(ctx, token, path, data)
	})
}

// WriteWrapped issues an authenticated POST with a wrapped response.
func (c *AuthenticatedClient) WriteWrapped(ctx context.Context, path string, data map[string]any, wrapTTL string) (map[string]any, error) {
	return c.request(ctx, func(token string) (map[string]any, error) {
		return c.base.WriteWrapped(ctx, token, path, data, wrapTTL)
	})
}

func (c *AuthenticatedClient) request(ctx context.Context, call func(token string) (map[string]any, error)) (map[string]any, error) {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := call(token)
	if usedErr := c.auth.Used(ctx); usedErr != nil {
		c.log.Warn("Failed to record token use", "err", usedErr)
	}
	return resp, err
}
