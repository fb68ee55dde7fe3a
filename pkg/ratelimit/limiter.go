package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Config defines a request budget
type Config struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// AnonymousConfig is the budget for callers without a session, keyed by IP.
// It mostly guards the sign-in endpoints.
func AnonymousConfig() Config {
	return Config{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// SessionConfig is the budget for signed-in users
func SessionConfig() Config {
	return Config{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// Limiter decides whether one more request for key fits the budget
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// maxTrackedKeys bounds the memory of MemoryLimiter
const maxTrackedKeys = 100000

// MemoryLimiter is a per-process token bucket limiter. Idle buckets are
// dropped once a full window has passed without requests.
type MemoryLimiter struct {
	cfg     Config
	buckets *expirable.LRU[string, *bucket]
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Minute
	}
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: expirable.NewLRU[string, *bucket](maxTrackedKeys, nil, 2*cfg.WindowDuration),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) capacity() float64 {
	return float64(l.cfg.RequestsPerWindow + l.cfg.BurstSize)
}

// Allow takes one token from key's bucket
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: l.capacity(), lastUpdate: now}
	}

	// Refill at RequestsPerWindow per WindowDuration
	rate := float64(l.cfg.RequestsPerWindow) / l.cfg.WindowDuration.Seconds()
	b.tokens += now.Sub(b.lastUpdate).Seconds() * rate
	if b.tokens > l.capacity() {
		b.tokens = l.capacity()
	}
	b.lastUpdate = now
	l.buckets.Add(key, b)

	d := Decision{Limit: l.cfg.RequestsPerWindow}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d, nil
	}
	if rate > 0 {
		d.RetryAfter = time.Duration((1 - b.tokens) / rate * float64(time.Second))
	} else {
		d.RetryAfter = l.cfg.WindowDuration
	}
	return d, nil
}
