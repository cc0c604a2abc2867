package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/cryptoutils"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/metrics"
)

// DefaultDiskPath returns the cache directory used when cache:disk_path is unset.
func DefaultDiskPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "vault-session-broker")
	}
	return filepath.Join(os.TempDir(), "vault-session-broker")
}

// NewBackend creates the durable backend selected by cfg. The session
// backend has no durable storage and returns nil.
func NewBackend(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (interfaces.CacheBackend, error) {
	switch cfg.Backend {
	case config.BackendSession, "":
		return nil, nil
	case config.BackendDisk:
		dir := cfg.DiskPath
		if dir == "" {
			dir = DefaultDiskPath()
		}
		return NewDiskBackend(dir, log)
	case config.BackendRedis:
		cli, err := NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		return NewRedisBackend(cli, log), nil
	case config.BackendS3:
		return NewS3Backend(cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region, cfg.S3.Endpoint, log)
	default:
		return nil, fmt.Errorf("%w: unsupported cache backend %q", interfaces.ErrInvalidConfig, cfg.Backend)
	}
}

// NewFromConfig builds a Cache with the durable backend and codec selected by cfg.
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, m *metrics.Metrics, log *slog.Logger) (*Cache, error) {
	backend, err := NewBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var sealKey []byte
	if cfg.Encrypt != "" {
		salt := cfg.Backend
		if backend != nil {
			salt = backend.Name()
		}
		sealKey = cryptoutils.DeriveCacheKey(cfg.Encrypt, salt)
	}

	codec, err := NewCodec(cfg.Compress, sealKey)
	if err != nil {
		return nil, err
	}

	log.Debug("Created credential cache",
		slog.String("backend", cfg.Backend),
		slog.Bool("compress", cfg.Compress),
		slog.Bool("sealed", sealKey != nil))

	return New(backend, codec, m, log), nil
}
