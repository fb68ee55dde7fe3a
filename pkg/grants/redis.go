package grants

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// RedisKeyPrefix namespaces cached grant documents
const RedisKeyPrefix = "gatehouse:grants:"

// missingMarker caches "no document" so misses do not hit the backend
const missingMarker = "null"

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisCache is a read-through cache shared by every gatehouse replica.
// Redis failures never fail a read; the backend is consulted instead.
//
// Writers overwrite the cached document while read-through only fills an
// empty key, so a read that loaded the previous document cannot replace a
// newer one.
type RedisCache struct {
	next    Store
	client  *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisCache wraps next with a Redis cache
func NewRedisCache(next Store, client *redis.Client, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RedisCache {
	return &RedisCache{
		next:    next,
		client:  client,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

func redisKey(email string) string {
	return RedisKeyPrefix + email
}

// Get returns the cached document or reads through to the backend
func (c *RedisCache) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	key, err := normalizeKey(email)
	if err != nil {
		return nil, err
	}

	data, err := c.client.Get(ctx, redisKey(key)).Result()
	switch {
	case err == redis.Nil:
		// miss
	case err != nil:
		c.logger.WithError(err).WithField("email", key).Warn("Redis get failed, reading through")
	case data == missingMarker:
		c.metrics.RecordCache("redis", true)
		return nil, nil
	default:
		g, decodeErr := decode([]byte(data))
		if decodeErr == nil {
			c.metrics.RecordCache("redis", true)
			return g, nil
		}
		c.logger.WithError(decodeErr).WithField("email", key).Warn("Dropping corrupt cache entry")
		c.drop(ctx, key)
	}
	c.metrics.RecordCache("redis", false)

	g, err := c.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, g)
	return g, nil
}

// Set writes through to the backend, then replaces the cached document
func (c *RedisCache) Set(ctx context.Context, email string, grants access.GrantSet) error {
	key, err := normalizeKey(email)
	if err != nil {
		return err
	}
	if err := c.next.Set(ctx, key, grants); err != nil {
		c.drop(ctx, key)
		return err
	}

	value, err := cacheValue(&grants)
	if err == nil {
		err = c.client.Set(ctx, redisKey(key), value, c.ttl).Err()
	}
	if err != nil {
		c.logger.WithError(err).WithField("email", key).Warn("Redis set failed, dropping entry")
		c.drop(ctx, key)
	}
	return nil
}

// Count delegates to the backend
func (c *RedisCache) Count(ctx context.Context) (int, error) {
	return Count(ctx, c.next)
}

// fill caches a document loaded from the backend unless a writer got there
// first
func (c *RedisCache) fill(ctx context.Context, key string, g *access.GrantSet) {
	value, err := cacheValue(g)
	if err != nil {
		return
	}
	if err := c.client.SetNX(ctx, redisKey(key), value, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("email", key).Warn("Redis set failed")
	}
}

func (c *RedisCache) drop(ctx context.Context, key string) {
	if err := c.client.Del(ctx, redisKey(key)).Err(); err != nil {
		c.logger.WithError(err).WithField("email", key).Warn("Redis invalidate failed")
	}
}

func cacheValue(g *access.GrantSet) (string, error) {
	if g == nil {
		return missingMarker, nil
	}
	data, err := encode(*g)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
