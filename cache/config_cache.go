package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// ConfigCache caches connection configuration received from the controller.
// Connection-scoped data depends on that configuration, so an outdated
// configuration purges the whole connection bank.
type ConfigCache struct {
	cache *Cache
	bank  interfaces.CacheBank
	ttl   config.TTLPolicy
	log   *slog.Logger
}

// NewConfigCache returns the configuration cache of a connection bank.
func NewConfigCache(c *Cache, bank interfaces.CacheBank, ttl config.TTLPolicy, log *slog.Logger) *ConfigCache {
	return &ConfigCache{
		cache: c,
		bank:  bank.WithScope(interfaces.ScopeConnection),
		ttl:   ttl,
		log:   log.With(slog.String("bank", bank.String())),
	}
}

// Get returns the cached configuration tree, or nil when none is cached or
// the cached one is outdated.
func (cc *ConfigCache) Get(ctx context.Context) (map[string]any, error) {
	var tree map[string]any
	created, found, err := cc.cache.Get(ctx, cc.bank, ConfigKey, &tree)
	if errors.Is(err, ErrCorruptRecord) {
		cc.log.Warn("Purging connection bank with undecodable configuration", "err", err)
		return nil, cc.cache.ClearBank(ctx, cc.bank)
	}
	if err != nil {
		return nil, err
	}
	if !found || tree == nil {
		cc.cache.metrics.CacheLookup(ConfigKey, false)
		return nil, nil
	}
	if maxAge, ok := cc.ttl.Duration(); ok && time.Since(created) >= maxAge {
		cc.log.Debug("Cached connection configuration is outdated, purging connection bank")
		cc.cache.metrics.CacheLookup(ConfigKey, false)
		return nil, cc.cache.ClearBank(ctx, cc.bank)
	}

	cc.cache.metrics.CacheLookup(ConfigKey, true)
	return tree, nil
}

// Store caches a configuration tree.
func (cc *ConfigCache) Store(ctx context.Context, tree map[string]any) error {
	return cc.cache.Put(ctx, cc.bank, ConfigKey, tree)
}

// Flush removes the cached configuration only.
func (cc *ConfigCache) Flush(ctx context.Context) error {
	return cc.cache.Flush(ctx, cc.bank, ConfigKey)
}

// MetadataCache caches KV mount metadata keyed by secret path.
// With a "connection" policy it lives in the connection bank and dies with
// it, otherwise it lives in the root bank with an independent lifetime.
type MetadataCache struct {
	cache *Cache
	bank  interfaces.CacheBank
	ttl   config.TTLPolicy
}

// NewMetadataCache returns the KV metadata cache of the run context of bank.
func NewMetadataCache(c *Cache, bank interfaces.CacheBank, ttl config.TTLPolicy) *MetadataCache {
	scope := interfaces.ScopeRoot
	if ttl.IsConnection() {
		scope = interfaces.ScopeConnection
	}
	return &MetadataCache{cache: c, bank: bank.WithScope(scope), ttl: ttl}
}

// Get returns the metadata cached for path.
func (mc *MetadataCache) Get(ctx context.Context, path string) (map[string]any, error) {
	all, err := mc.load(ctx)
	if err != nil {
		return nil, err
	}
	meta, _ := all[path].(map[string]any)
	return meta, nil
}

// Store caches the metadata of path.
func (mc *MetadataCache) Store(ctx context.Context, path string, meta map[string]any) error {
	all, err := mc.load(ctx)
	if err != nil {
		return err
	}
	if all == nil {
		all = map[string]any{}
	}
	all[path] = meta
	return mc.cache.Put(ctx, mc.bank, MetadataKey, all)
}

// Clear flushes all cached metadata.
func (mc *MetadataCache) Clear(ctx context.Context) error {
	return mc.cache.Flush(ctx, mc.bank, MetadataKey)
}

func (mc *MetadataCache) load(ctx context.Context) (map[string]any, error) {
	var all map[string]any
	created, found, err := mc.cache.Get(ctx, mc.bank, MetadataKey, &all)
	if errors.Is(err, ErrCorruptRecord) {
		return nil, mc.Clear(ctx)
	}
	if err != nil || !found {
		mc.cache.metrics.CacheLookup(MetadataKey, false)
		return nil, err
	}
	if maxAge, ok := mc.ttl.Duration(); ok && time.Since(created) >= maxAge {
		mc.cache.metrics.CacheLookup(MetadataKey, false)
		return nil, mc.Clear(ctx)
	}
	mc.cache.metrics.CacheLookup(MetadataKey, true)
	return all, nil
}
