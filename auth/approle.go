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

// AppRole holds the credentials of an AppRole login. SecretID is nil for
// roles not binding a secret id.
type AppRole struct {
	RoleID   string
	SecretID *interfaces.SecretID
}

// IsValid reports whether the secret id stays valid for validFor and has
// uses left for uses logins. Roles without a secret id are always valid.
func (r *AppRole) IsValid(validFor time.Duration, uses int) bool {
	if r.SecretID == nil {
		return true
	}
	return r.SecretID.IsValidFor(validFor) && r.SecretID.HasUsesLeft(uses)
}

// Used records one login with the secret id.
func (r *AppRole) Used() {
	if r.SecretID != nil {
		r.SecretID.Used()
	}
}

// Payload returns the login request body.
func (r *AppRole) Payload() map[string]any {
	payload := map[string]any{"role_id": r.RoleID}
	if r.SecretID != nil {
		payload["secret_id"] = r.SecretID.ID
	}
	return payload
}

// AppRoleAuth authenticates with tokens obtained by AppRole logins.
type AppRoleAuth struct {
	mu            sync.Mutex
	approle       *AppRole
	mount         string
	client        interfaces.VaultClient
	token         *TokenAuth
	secretIDCache *cache.SecretIDCache
	log           *slog.Logger
}

// NewAppRoleAuth creates an AppRole strategy logging in at auth/<mount>/login
// with client. token holds the cached token, if any.
func NewAppRoleAuth(approle *AppRole, mount string, client interfaces.VaultClient, token *TokenAuth, secretIDCache *cache.SecretIDCache, log *slog.Logger) *AppRoleAuth {
	return &AppRoleAuth{
		approle:       approle,
		mount:         mount,
		client:        client,
		token:         token,
		secretIDCache: secretIDCache,
		log:           log,
	}
}

// IsValid reports whether the token is valid for validFor, or the secret id
// allows one more login.
func (a *AppRoleAuth) IsValid(validFor time.Duration) bool {
	if a.token.IsValid(validFor) {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.approle.IsValid(validFor, 1)
}

func (a *AppRoleAuth) Token(ctx context.Context) (string, error) {
	if a.token.IsValid(0) {
		return a.token.Token(ctx)
	}

	a.mu.Lock()
	canLogin := a.approle.IsValid(0, 1)
	a.mu.Unlock()
	if !canLogin {
		return "", fmt.Errorf("%w: neither the token nor the AppRole credentials are valid", interfaces.ErrAuthExpired)
	}

	if err := a.login(ctx); err != nil {
		return "", err
	}
	return a.token.Token(ctx)
}

func (a *AppRoleAuth) login(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.log.Debug("Logging in with AppRole", slog.String("mount", a.mount))
	auth, err := a.client.Login(ctx, a.mount, a.approle.Payload())
	if err != nil {
		return fmt.Errorf("AppRole login failed: %w", err)
	}
	a.approle.Used()

	if err := a.updateSecretIDCache(ctx); err != nil {
		a.log.Warn("Failed to update secret id cache", "err", err)
	}
	return a.token.UpdateToken(ctx, auth)
}

func (a *AppRoleAuth) updateSecretIDCache(ctx context.Context) error {
	if a.secretIDCache == nil || a.approle.SecretID == nil {
		return nil
	}
	if a.approle.SecretID.IsValid(0) {
		return a.secretIDCache.Store(ctx, a.approle.SecretID)
	}
	a.log.Debug("Secret id has no uses left, flushing it from cache")
	return a.secretIDCache.Clear(ctx)
}

func (a *AppRoleAuth) CurrentToken() *interfaces.Token {
	return a.token.CurrentToken()
}

func (a *AppRoleAuth) IsRenewable() bool {
	return a.token.IsRenewable()
}

func (a *AppRoleAuth) UpdateToken(ctx context.Context, auth map[string]any) error {
	return a.token.UpdateToken(ctx, auth)
}

func (a *AppRoleAuth) Used(ctx context.Context) error {
	return a.token.Used(ctx)
}

// InvalidSecretID returns a secret id that cannot be used for logins. It
// stands in when a cached token exists and no secret id was cached.
func InvalidSecretID() *interfaces.SecretID {
	return &interfaces.SecretID{Lease: interfaces.Lease{NumUses: -1}}
}
