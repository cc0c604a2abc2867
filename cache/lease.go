package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// LeaseSuffix is the bank below the session bank holding leased secrets.
// Leases are issued to the session token, so purging the session drops them.
const LeaseSuffix = "leases"

// LeaseCache caches leased secrets by name.
type LeaseCache struct {
	cache *Cache
	bank  interfaces.CacheBank
	log   *slog.Logger
}

// NewLeaseCache returns the lease cache nested below the session bank of bank.
func NewLeaseCache(c *Cache, bank interfaces.CacheBank, log *slog.Logger) *LeaseCache {
	bank = bank.WithScope(interfaces.ScopeSession).WithSuffix(LeaseSuffix)
	return &LeaseCache{
		cache: c,
		bank:  bank,
		log:   log,
	}
}

// Bank returns the bank leases are stored in.
func (lc *LeaseCache) Bank() interfaces.CacheBank {
	return lc.bank
}

func (lc *LeaseCache) entry(name string) *CredentialCache[interfaces.SecretLease, *interfaces.SecretLease] {
	cc := NewCredentialCache[interfaces.SecretLease](lc.cache, lc.bank, name, config.TTLUnset(), lc.log)
	cc.category = LeaseSuffix
	return cc
}

// Peek returns the lease cached under name regardless of its validity.
func (lc *LeaseCache) Peek(ctx context.Context, name string) (*interfaces.SecretLease, error) {
	var lease interfaces.SecretLease
	_, found, err := lc.cache.Get(ctx, lc.bank, name, &lease)
	if errors.Is(err, ErrCorruptRecord) {
		lc.log.Warn("Flushing undecodable lease record", slog.String("lease", name), "err", err)
		return nil, lc.Flush(ctx, name)
	}
	if err != nil || !found || lease.ID == "" {
		return nil, err
	}
	return &lease, nil
}

// Store caches lease under name.
func (lc *LeaseCache) Store(ctx context.Context, name string, lease *interfaces.SecretLease) error {
	return lc.entry(name).Store(ctx, lease)
}

// Flush removes the lease cached under name.
func (lc *LeaseCache) Flush(ctx context.Context, name string) error {
	return lc.cache.Flush(ctx, lc.bank, name)
}
