// Package lock provides a Redis-backed core.ItemLocker for deployments that run several
// engine instances without sharing a database session.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"reorder-engine/internal/core"
)

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

var _ core.ItemLocker = (*RedisLocker)(nil)

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
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

// NewRedisLocker returns a locker whose locks expire after ttl if never released.
// ttl must cover one item's check-and-write.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	lk, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, core.ErrLockNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
	}
	return func() {
		_ = lk.Release(context.Background())
	}, nil
}
