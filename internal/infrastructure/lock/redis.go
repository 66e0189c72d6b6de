// Package lock provides a Redis backed KeyLocker for deployments where the
// ledger runs in several processes that do not share a database session.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/registers/valuation"
	"stockledger/pkg/logger"
)

// Config configures the Redis locker.
type Config struct {
	// TTL bounds how long a crashed holder keeps a key.
	TTL      time.Duration
	Attempts int
	Backoff  time.Duration
	Prefix   string
}

// RedisLocker takes keys with redislock.
type RedisLocker struct {
	client *redislock.Client
	cfg    Config
}

var _ valuation.KeyLocker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker on rdb.
func NewRedisLocker(rdb redis.UniversalClient, cfg Config) *RedisLocker {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "stockledger:lock:"
	}
	return &RedisLocker{client: redislock.New(rdb), cfg: cfg}
}

// Lock obtains keys in order. On failure the keys already held are released.
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(context.Context), error) {
	held := make([]*redislock.Lock, 0, len(keys))
	release := func(ctx context.Context) {
		for _, lk := range slices.Backward(held) {
			if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn(ctx, "release redis lock", "key", lk.Key(), "error", err)
			}
		}
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.cfg.Backoff), l.cfg.Attempts-1),
	}
	for _, key := range keys {
		lk, err := l.client.Obtain(ctx, l.redisKey(key), l.cfg.TTL, opts)
		if err != nil {
			release(context.WithoutCancel(ctx))
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, apperror.NewConcurrentModification("lock", key).
					WithDetail("lock_attempts", l.cfg.Attempts)
			}
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lk)
	}
	return release, nil
}

func (l *RedisLocker) redisKey(key string) string {
	return l.cfg.Prefix + key
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}
