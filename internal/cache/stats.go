// Package cache provides a Redis-backed cache for review statistics.
//
// The cache is an optimization only: callers fall back to the store on any
// error, and a miss is reported as ErrMiss. Writes are guarded by a version
// counter that every invalidation bumps, so a value computed before an
// invalidation is never stored after it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-reviews-backend/internal/domain"
)

// Redis keys.
const (
	StatsKey   = "reviews:stats"
	VersionKey = "reviews:stats:version"
)

var (
	// ErrMiss is returned by Get when no statistics are cached.
	ErrMiss = errors.New("cache miss")
	// ErrStale is returned by Set when the cache was invalidated after the
	// caller read the version.
	ErrStale = errors.New("stale stats")
)

// StatsCache stores domain.ReviewStats in Redis with a fixed TTL.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache returns a cache backed by client.
func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

// Get returns the cached statistics or ErrMiss.
func (c *StatsCache) Get(ctx context.Context) (domain.ReviewStats, error) {
	data, err := c.client.Get(ctx, StatsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ReviewStats{}, ErrMiss
		}
		return domain.ReviewStats{}, fmt.Errorf("redis get stats: %w", err)
	}

	var stats domain.ReviewStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.ReviewStats{}, fmt.Errorf("unmarshal stats: %w", err)
	}
	return stats, nil
}

// Version returns the current invalidation counter. Read it before computing
// the statistics that will be passed to Set.
func (c *StatsCache) Version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, VersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get stats version: %w", err)
	}
	return v, nil
}

// Set caches stats for the configured TTL if the version is still version.
// It returns ErrStale when an invalidation happened in between, including
// one that races with the write itself.
func (c *StatsCache) Set(ctx context.Context, stats domain.ReviewStats, version int64) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, VersionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, StatsKey, data, c.ttl)
			return nil
		})
		return err
	}, VersionKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("redis set stats: %w", err)
	}
}

// Invalidate bumps the version and drops the cached statistics atomically.
func (c *StatsCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, VersionKey)
		pipe.Del(ctx, StatsKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate stats: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *StatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// NewClient builds a go-redis client with bounded timeouts.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})
}
