package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// Cache keys of the credential categories.
const (
	TokenKey    = "__token"
	SecretIDKey = "secret_id"
	ConfigKey   = "config"
	MetadataKey = "secret_path_metadata"
)

// CredentialCache caches one credential category under a fixed bank and key.
// T is the credential struct, PT its pointer type.
type CredentialCache[T any, PT interface {
	*T
	interfaces.Credential
}] struct {
	cache *Cache
	bank  interfaces.CacheBank
	key   string
	ttl   config.TTLPolicy
	log   *slog.Logger

	// category labels cache lookups, the key unless set
	category string
}

// NewCredentialCache creates a credential cache. A TTL in seconds evicts
// records older than that, any other policy defers to the credential's
// own expiry.
func NewCredentialCache[T any, PT interface {
	*T
	interfaces.Credential
}](c *Cache, bank interfaces.CacheBank, key string, ttl config.TTLPolicy, log *slog.Logger) *CredentialCache[T, PT] {
	return &CredentialCache[T, PT]{
		cache: c,
		bank:  bank,
		key:   key,
		ttl:   ttl,
		log:   log.With(slog.String("bank", bank.String()), slog.String("key", key)),

		category: key,
	}
}

// TokenCache caches Vault tokens.
type TokenCache = CredentialCache[interfaces.Token, *interfaces.Token]

// SecretIDCache caches AppRole secret ids.
type SecretIDCache = CredentialCache[interfaces.SecretID, *interfaces.SecretID]

// NewTokenCache returns the token cache of a session bank.
func NewTokenCache(c *Cache, bank interfaces.CacheBank, ttl config.TTLPolicy, log *slog.Logger) *TokenCache {
	return NewCredentialCache[interfaces.Token](c, bank, TokenKey, ttl, log)
}

// NewSecretIDCache returns the secret id cache of a connection bank.
func NewSecretIDCache(c *Cache, bank interfaces.CacheBank, ttl config.TTLPolicy, log *slog.Logger) *SecretIDCache {
	return NewCredentialCache[interfaces.SecretID](c, bank, SecretIDKey, ttl, log)
}

// Get returns the cached credential if it is valid for at least minRemaining
// and has a use left. Records failing that check, or failing to decode,
// are flushed. A nil credential without error means nothing usable was cached.
func (cc *CredentialCache[T, PT]) Get(ctx context.Context, minRemaining time.Duration) (PT, error) {
	var v T
	created, found, err := cc.cache.Get(ctx, cc.bank, cc.key, &v)
	if errors.Is(err, ErrCorruptRecord) {
		cc.log.Warn("Flushing undecodable cache record", "err", err)
		return nil, cc.Clear(ctx)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		cc.cache.metrics.CacheLookup(cc.category, false)
		return nil, nil
	}

	cred := PT(&v)
	if cred.LeaseID() == "" {
		cc.log.Warn("Flushing cache record without identifier")
		return nil, cc.Clear(ctx)
	}
	if maxAge, ok := cc.ttl.Duration(); ok && time.Since(created) >= maxAge {
		cc.log.Debug("Cached credential outlived cache ttl")
		cc.cache.metrics.CacheLookup(cc.category, false)
		return nil, cc.Clear(ctx)
	}
	if !cred.IsValid(minRemaining) {
		cc.log.Debug("Cached credential is not valid any more", slog.Duration("min_remaining", minRemaining))
		cc.cache.metrics.CacheLookup(cc.category, false)
		return nil, cc.Clear(ctx)
	}

	cc.cache.metrics.CacheLookup(cc.category, true)
	return cred, nil
}

// Store caches cred. Credentials with exactly one use left are never
// persisted; storing one flushes the existing entry instead.
func (cc *CredentialCache[T, PT]) Store(ctx context.Context, cred PT) error {
	if cred.SingleUse() {
		cc.log.Debug("Not caching single-use credential")
		return cc.Clear(ctx)
	}
	return cc.cache.Put(ctx, cc.bank, cc.key, cred)
}

// Clear flushes the cached credential.
func (cc *CredentialCache[T, PT]) Clear(ctx context.Context) error {
	return cc.cache.Flush(ctx, cc.bank, cc.key)
}
