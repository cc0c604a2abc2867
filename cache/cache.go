package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/metrics"
)

// Cache layers the process-local Store over an optional durable backend and
// encodes records with a Codec.
type Cache struct {
	local   *Store
	durable interfaces.CacheBackend
	codec   *Codec
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New creates a cache. durable may be nil, in which case records only live
// in the process.
func New(durable interfaces.CacheBackend, codec *Codec, m *metrics.Metrics, log *slog.Logger) *Cache {
	return &Cache{
		local:   NewStore(),
		durable: durable,
		codec:   codec,
		metrics: m,
		log:     log,
	}
}

// BackendName returns the name of the durable backend, or "session".
func (c *Cache) BackendName() string {
	if c.durable == nil {
		return c.local.Name()
	}
	return c.durable.Name()
}

// Get decodes the record at bank/key into out. found is false when no record
// exists. Records that cannot be decoded return ErrCorruptRecord.
func (c *Cache) Get(ctx context.Context, bank interfaces.CacheBank, key string, out any) (created time.Time, found bool, err error) {
	data, err := c.local.Fetch(ctx, bank, key)
	if errors.Is(err, interfaces.ErrCacheMiss) && c.durable != nil {
		data, err = c.durable.Fetch(ctx, bank, key)
		if err == nil {
			_ = c.local.Store(ctx, bank, key, data)
		}
	}
	if errors.Is(err, interfaces.ErrCacheMiss) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to fetch %s/%s from %s cache: %w", bank, key, c.BackendName(), err)
	}

	ts, err := c.codec.Decode(data, out)
	if err != nil {
		return time.Time{}, true, err
	}
	return time.Unix(ts, 0), true, nil
}

// Put stores v at bank/key with the current time as creation time.
func (c *Cache) Put(ctx context.Context, bank interfaces.CacheBank, key string, v any) error {
	data, err := c.codec.Encode(time.Now().Unix(), v)
	if err != nil {
		return err
	}
	if err := c.local.Store(ctx, bank, key, data); err != nil {
		return err
	}
	if c.durable != nil {
		if err := c.durable.Store(ctx, bank, key, data); err != nil {
			return fmt.Errorf("failed to store %s/%s in %s cache: %w", bank, key, c.durable.Name(), err)
		}
	}
	return nil
}

// Flush removes bank/key from both tiers.
func (c *Cache) Flush(ctx context.Context, bank interfaces.CacheBank, key string) error {
	if key == "" {
		return c.ClearBank(ctx, bank)
	}
	_ = c.local.Flush(ctx, bank, key)
	if c.durable != nil {
		if err := c.durable.Flush(ctx, bank, key); err != nil {
			return fmt.Errorf("failed to flush %s/%s from %s cache: %w", bank, key, c.durable.Name(), err)
		}
	}
	return nil
}

// ClearBank purges bank and every bank nested below it.
func (c *Cache) ClearBank(ctx context.Context, bank interfaces.CacheBank) error {
	c.log.Debug("Clearing cache bank", slog.String("bank", bank.String()), slog.String("backend", c.BackendName()))
	_ = c.local.Flush(ctx, bank, "")
	if c.durable != nil {
		if err := c.durable.Flush(ctx, bank, ""); err != nil {
			return fmt.Errorf("failed to clear bank %s from %s cache: %w", bank, c.durable.Name(), err)
		}
	}
	return nil
}
