// Package redis shares the prediction result cache across server replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/grid-outage-risk/internal/serving"
)

const keyPrefix = "outage-risk:"

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Cache implements serving.ResultCache. Redis errors degrade to cache
// misses; they are logged and never fail a prediction.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a cache whose entries expire after ttl (0 keeps them).
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) Get(ctx context.Context, key string) (serving.Result, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return serving.Result{}, false
	}
	if err != nil {
		c.logger.Warn("redis cache get failed", "error", err)
		return serving.Result{}, false
	}

	var r serving.Result
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Warn("redis cache entry corrupt", "key", key, "error", err)
		return serving.Result{}, false
	}
	return r, true
}

func (c *Cache) Put(ctx context.Context, key string, r serving.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Warn("redis cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", "error", err)
	}
}

// CheckReadiness pings the server.
func (c *Cache) CheckReadiness(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
