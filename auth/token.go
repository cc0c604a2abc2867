package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/vault-session-broker/cache"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// TokenAuth authenticates with a bearer token kept in sync with the token cache.
type TokenAuth struct {
	mu    sync.Mutex
	token *interfaces.Token
	cache *cache.TokenCache
	log   *slog.Logger
}

// NewTokenAuth creates a token strategy. token may be nil when the token is
// obtained later through UpdateToken.
func NewTokenAuth(token *interfaces.Token, c *cache.TokenCache, log *slog.Logger) *TokenAuth {
	return &TokenAuth{token: token, cache: c, log: log}
}

func (a *TokenAuth) Token(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil || !a.token.IsValid(0) {
		return "", fmt.Errorf("%w: token is expired or has no uses left", interfaces.ErrAuthExpired)
	}
	return a.token.ID, nil
}

func (a *TokenAuth) CurrentToken() *interfaces.Token {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil {
		return nil
	}
	tok := *a.token
	return &tok
}

func (a *TokenAuth) IsValid(validFor time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.token != nil && a.token.IsValid(validFor)
}

func (a *TokenAuth) IsRenewable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.token != nil && a.token.IsRenewable()
}

func (a *TokenAuth) UpdateToken(ctx context.Context, auth map[string]any) error {
	token, err := interfaces.NewTokenFromAuth(auth)
	if err != nil {
		return err
	}
	return a.Replace(ctx, token)
}

// Replace swaps in token and caches it.
func (a *TokenAuth) Replace(ctx context.Context, token *interfaces.Token) error {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()

	if a.cache == nil {
		return nil
	}
	return a.cache.Store(ctx, token)
}

// Used decrements the remaining uses. A token still valid afterwards is
// re-cached, an exhausted one is flushed.
func (a *TokenAuth) Used(ctx context.Context) error {
	a.mu.Lock()
	if a.token == nil {
		a.mu.Unlock()
		return nil
	}
	a.token.Used()
	token := *a.token
	a.mu.Unlock()

	if a.cache == nil {
		return nil
	}
	if token.IsValid(0) {
		return a.cache.Store(ctx, &token)
	}
	a.log.Debug("Token has no uses left, flushing it from cache")
	return a.cache.Clear(ctx)
}
