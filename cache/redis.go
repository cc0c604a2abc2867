package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/vault-session-broker/interfaces"
)

const redisKeyPrefix = "vault-session:"

// RedisBackend stores cache records as plain Redis string keys named
// "vault-session:<bank>/<key>".
type RedisBackend struct {
	cli *redis.Client
	log *slog.Logger
}

func NewRedisBackend(cli *redis.Client, log *slog.Logger) *RedisBackend {
	return &RedisBackend{cli: cli, log: log}
}

// NewRedisClient connects to addr and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return cli, nil
}

func (b *RedisBackend) Fetch(ctx context.Context, bank interfaces.CacheBank, key string) ([]byte, error) {
	data, err := b.cli.Get(ctx, redisKey(bank, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *RedisBackend) Store(ctx context.Context, bank interfaces.CacheBank, key string, data []byte) error {
	return b.cli.Set(ctx, redisKey(bank, key), data, 0).Err()
}

// Flush deletes one key, or every key of the bank subtree when key is empty.
func (b *RedisBackend) Flush(ctx context.Context, bank interfaces.CacheBank, key string) error {
	if key != "" {
		return b.cli.Del(ctx, redisKey(bank, key)).Err()
	}

	pattern := redisKeyPrefix + escapeGlob(bank.String()) + "/*"
	iter := b.cli.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	b.log.Debug("Flushing Redis keys", slog.String("bank", bank.String()), slog.Int("count", len(keys)))
	return b.cli.Del(ctx, keys...).Err()
}

func (b *RedisBackend) Name() string {
	return "redis"
}

func redisKey(bank interfaces.CacheBank, key string) string {
	return redisKeyPrefix + bank.String() + "/" + key
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
