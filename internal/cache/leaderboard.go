// Package cache provides an optional Redis cache for hot read paths. When
// Redis is not configured every call is a transparent miss.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"ctf-range/internal/logging"
)

// Cache wraps a Redis client. A nil *Cache or nil client is safe to use.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis. Empty addr disables caching.
func New(addr, password string, ttl time.Duration) *Cache {
	if addr == "" {
		return &Cache{ttl: ttl}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logging.L().Warn("redis unavailable, caching disabled",
			zap.String("addr", addr), zap.Error(err))
		return &Cache{ttl: ttl}
	}
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached value into dest. Returns false on miss or
// when caching is disabled.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

// SetJSON stores a value with the cache TTL. Failures are logged, not fatal.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logging.L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops keys after a write that changes the cached view.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logging.L().Warn("cache invalidate failed", zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
