package factory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/vault-session-broker/cache"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/vaultclient"
)

// LeaseStore caches leased secrets of a session and renews or revokes them.
type LeaseStore struct {
	client *vaultclient.AuthenticatedClient
	cache  *cache.LeaseCache
	log    *slog.Logger
}

func NewLeaseStore(client *vaultclient.AuthenticatedClient, c *cache.LeaseCache, log *slog.Logger) *LeaseStore {
	return &LeaseStore{client: client, cache: c, log: log}
}

// LeaseStore returns the lease store of the session. Leases live below the
// session bank and are purged together with the session token.
func (f *Factory) LeaseStore(ctx context.Context, forceLocal bool) (*LeaseStore, error) {
	client, cfg, err := f.Acquire(ctx, forceLocal)
	if err != nil {
		return nil, err
	}
	c, err := f.cacheFor(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	return NewLeaseStore(client, cache.NewLeaseCache(c, f.Bank(forceLocal), f.log), f.log), nil
}

// Get returns the lease cached under name if it stays valid for validFor.
// With renew set, a lease about to expire is renewed by increment seconds
// first (0 uses the server default). Leases that cannot be made valid are
// revoked when revoke is set, flushed in any case, and reported as nil.
func (s *LeaseStore) Get(ctx context.Context, name string, validFor time.Duration, renew bool, increment int, revoke bool) (*interfaces.SecretLease, error) {
	lease, err := s.cache.Peek(ctx, name)
	if err != nil || lease == nil {
		return nil, err
	}
	if lease.IsValid(validFor) {
		return lease, nil
	}

	if renew && lease.IsRenewable() {
		renewed, err := s.renew(ctx, lease, increment)
		if err != nil {
			s.log.Warn("Failed to renew lease", slog.String("lease", name), "err", err)
		} else if renewed.IsValid(validFor) {
			if err := s.cache.Store(ctx, name, renewed); err != nil {
				return nil, err
			}
			return renewed, nil
		}
	}

	if revoke {
		if err := s.revoke(ctx, lease.ID); err != nil {
			s.log.Warn("Failed to revoke lease", slog.String("lease", name), "err", err)
		}
	}
	return nil, s.cache.Flush(ctx, name)
}

// Store caches lease under name.
func (s *LeaseStore) Store(ctx context.Context, name string, lease *interfaces.SecretLease) error {
	return s.cache.Store(ctx, name, lease)
}

// Renew renews the lease cached under name by increment seconds and caches
// the result.
func (s *LeaseStore) Renew(ctx context.Context, name string, increment int) (*interfaces.SecretLease, error) {
	lease, err := s.cache.Peek(ctx, name)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, fmt.Errorf("%w: no lease cached as %s", interfaces.ErrCacheMiss, name)
	}
	renewed, err := s.renew(ctx, lease, increment)
	if err != nil {
		return nil, err
	}
	return renewed, s.cache.Store(ctx, name, renewed)
}

// Revoke revokes the lease cached under name and flushes it. Nothing cached
// is not an error.
func (s *LeaseStore) Revoke(ctx context.Context, name string) error {
	lease, err := s.cache.Peek(ctx, name)
	if err != nil {
		return err
	}
	if lease != nil {
		if err := s.revoke(ctx, lease.ID); err != nil {
			return err
		}
	}
	return s.cache.Flush(ctx, name)
}

func (s *LeaseStore) renew(ctx context.Context, lease *interfaces.SecretLease, increment int) (*interfaces.SecretLease, error) {
	payload := map[string]any{"lease_id": lease.ID}
	if increment > 0 {
		payload["increment"] = increment
	}
	resp, err := s.client.Write(ctx, "sys/leases/renew", payload)
	if err != nil {
		return nil, err
	}
	renewed, err := interfaces.NewSecretLease(resp)
	if err != nil {
		return nil, err
	}
	// renewals do not repeat the secret
	renewed.Data = lease.Data
	return renewed, nil
}

func (s *LeaseStore) revoke(ctx context.Context, leaseID string) error {
	_, err := s.client.Write(ctx, "sys/leases/revoke", map[string]any{"lease_id": leaseID})
	return err
}
