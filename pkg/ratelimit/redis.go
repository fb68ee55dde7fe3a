package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter counts requests in fixed windows shared by every replica
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter. Keys are stored as
// <prefix>:<key>.
func NewRedisLimiter(client *redis.Client, cfg Config, prefix string) *RedisLimiter {
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Minute
	}
	if prefix == "" {
		prefix = "gatehouse:ratelimit"
	}
	return &RedisLimiter{client: client, cfg: cfg, prefix: prefix}
}

func (l *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// Allow increments the window counter for key
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.key(key)
	limit := l.cfg.RequestsPerWindow + l.cfg.BurstSize

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}

	// The window starts at the first request and is never extended
	window := ttl.Val()
	if window < 0 {
		if err := l.client.PExpire(ctx, redisKey, l.cfg.WindowDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis rate limit: %w", err)
		}
		window = l.cfg.WindowDuration
	}

	count := int(incr.Val())
	d := Decision{Limit: l.cfg.RequestsPerWindow}
	if count <= limit {
		d.Allowed = true
		d.Remaining = limit - count
		return d, nil
	}
	d.RetryAfter = window
	return d, nil
}
