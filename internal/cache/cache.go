// Package cache is a thin Redis layer for the read side: cache-aside for
// recent-changes queries and write-through of the latest run per source.
// Every operation degrades gracefully; a cache failure is never a request
// failure.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

const (
	latestRunKeyPrefix    = "sanctions:run:latest:"
	recentChangesKeyPfx   = "sanctions:changes:recent:"
	recentChangesCacheTTL = 60 * time.Second
)

// Cache wraps the Redis client.
type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects a Redis client from a URL.
func New(redisURL string, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opts), logger: logger}, nil
}

// Close releases the client.
func (c *Cache) Close() error { return c.rdb.Close() }

// Ping probes connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// StoreLatestRun writes through the most recent terminal run for a source.
func (c *Cache) StoreLatestRun(ctx context.Context, run *domain.ScraperRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.RunID, err)
	}
	key := latestRunKeyPrefix + run.Source.Lower()
	if err := c.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// LatestRun returns the cached latest run for a source, or nil on miss.
func (c *Cache) LatestRun(ctx context.Context, source domain.Source) (*domain.ScraperRun, error) {
	key := latestRunKeyPrefix + source.Lower()
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var run domain.ScraperRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode cached run: %w", err)
	}
	return &run, nil
}

// GetRecentChanges returns the cached payload for a recent-changes query key,
// or nil on miss. Failures are logged and reported as misses.
func (c *Cache) GetRecentChanges(ctx context.Context, key string) []byte {
	data, err := c.rdb.Get(ctx, recentChangesKeyPfx+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return data
}

// SetRecentChanges stores a recent-changes payload with a short TTL.
func (c *Cache) SetRecentChanges(ctx context.Context, key string, payload []byte) {
	if err := c.rdb.Set(ctx, recentChangesKeyPfx+key, payload, recentChangesCacheTTL).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
