// Package cache provides a Redis cache-aside layer for vote summaries.
//
// A Cache built without a reachable Redis is disabled: every call is a
// no-op and every lookup misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/pkg/logger"
)

const (
	defaultTTL         = 30 * time.Second
	defaultDialTimeout = 3 * time.Second
	keyPrefix          = "summary:"
)

// Cache stores VoteSummary values keyed by spot id.
type Cache struct {
	rdb         *redis.Client
	ttl         time.Duration
	dialTimeout time.Duration
	log         logger.Logger
}

// New connects to redisURL. An empty URL, a bad URL or a failed ping
// returns a disabled cache.
func New(ctx context.Context, redisURL string, opts ...Option) *Cache {
	c := &Cache{ttl: defaultTTL, dialTimeout: defaultDialTimeout, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}

	if redisURL == "" {
		c.log.Info(ctx, "redis: no URL configured, summary cache disabled")
		return c
	}

	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		c.log.Warn(ctx, "redis: invalid URL, summary cache disabled", logger.Error(err))
		return c
	}
	rdb := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		c.log.Warn(ctx, "redis: connection failed, summary cache disabled", logger.Error(err))
		_ = rdb.Close()
		return c
	}

	c.log.Info(ctx, "redis: connected, summary cache enabled")
	c.rdb = rdb
	return c
}

// NewWithClient wraps an existing client. A nil client yields a disabled cache.
func NewWithClient(rdb *redis.Client, opts ...Option) *Cache {
	c := &Cache{ttl: defaultTTL, dialTimeout: defaultDialTimeout, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.rdb = rdb
	return c
}

// Enabled reports whether a Redis client is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Get returns the cached summary. The bool is false on a miss or when the
// cache is disabled.
func (c *Cache) Get(ctx context.Context, spotID string) (model.VoteSummary, bool, error) {
	if !c.Enabled() {
		return model.VoteSummary{}, false, nil
	}
	data, err := c.rdb.Get(ctx, Key(spotID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.VoteSummary{}, false, nil
	}
	if err != nil {
		return model.VoteSummary{}, false, fmt.Errorf("cache get: %w", err)
	}
	var s model.VoteSummary
	if err := json.Unmarshal(data, &s); err != nil {
		// corrupt entry: treat as a miss and let the next Set overwrite it
		return model.VoteSummary{}, false, nil
	}
	return s, true, nil
}

// Set stores a summary with the configured TTL.
func (c *Cache) Set(ctx context.Context, spotID string, s model.VoteSummary) error {
	if !c.Enabled() {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, Key(spotID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes the summary of one spot. Called after every vote write
// and spot delete.
func (c *Cache) Invalidate(ctx context.Context, spotID string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.rdb.Del(ctx, Key(spotID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Ping checks Redis. A disabled cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}

// Key returns the Redis key of a spot summary.
func Key(spotID string) string {
	return keyPrefix + spotID
}
