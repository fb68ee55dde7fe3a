package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

func TestMemoryLimiter_BurstThenRefill(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	l := NewMemoryLimiter(Config{RequestsPerWindow: 60, WindowDuration: time.Minute, BurstSize: 2})
	l.now = func() time.Time { return now }

	for i := 0; i < 62; i++ {
		d, err := l.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
	}

	d, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60, d.Limit)
	assert.InDelta(t, time.Second, d.RetryAfter, float64(10*time.Millisecond))

	// Other keys have their own bucket
	d, err = l.Allow(ctx, "ip:10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// One token per second
	now = now.Add(time.Second)
	d, err = l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// An idle bucket refills to capacity
	now = now.Add(2 * time.Minute)
	d, err = l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 61, d.Remaining)
}

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, cfg, ""), mr
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t, Config{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1})

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "user:alice@co.com")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "user:alice@co.com")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	assert.True(t, mr.Exists("gatehouse:ratelimit:user:alice@co.com"))

	mr.FastForward(time.Minute + time.Second)
	d, err = l.Allow(ctx, "user:alice@co.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	l, mr := newRedisLimiter(t, SessionConfig())
	mr.Close()

	_, err := l.Allow(context.Background(), "ip:10.0.0.1")
	assert.Error(t, err)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware(t *testing.T) {
	logger := observability.NewNopLogger()
	metrics := observability.NewTestMetrics()
	anonymous := NewMemoryLimiter(Config{RequestsPerWindow: 1, WindowDuration: time.Hour})
	sessions := NewMemoryLimiter(Config{RequestsPerWindow: 2, WindowDuration: time.Hour})
	h := NewMiddleware(sessions, anonymous, logger, metrics).Handler(okHandler())

	anonReq := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		r.RemoteAddr = "192.0.2.7:51234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}
	userReq := func(email string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/session", nil)
		r.RemoteAddr = "192.0.2.7:51234"
		s := &session.Session{ID: "s-" + email, Real: identity.Identity{Email: email}}
		r = r.WithContext(session.WithSession(r.Context(), s))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	t.Run("anonymous callers are limited by IP", func(t *testing.T) {
		w := anonReq()
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

		w = anonReq()
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		var body httputil.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "rate_limited", body.Code)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("ip")))
	})

	t.Run("signed-in users have their own budget", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, userReq("alice@co.com").Code)
		w := userReq("alice@co.com")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, http.StatusTooManyRequests, userReq("alice@co.com").Code)

		assert.Equal(t, http.StatusNoContent, userReq("bob@co.com").Code)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("user")))
	})

	t.Run("limiter errors fail open", func(t *testing.T) {
		h := NewMiddleware(failingLimiter{}, failingLimiter{}, logger, metrics).Handler(okHandler())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("nil limiter disables the scope", func(t *testing.T) {
		h := NewMiddleware(nil, nil, logger, metrics).Handler(okHandler())
		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusNoContent, w.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.1", "192.0.2.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:80", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.10"}, "10.0.0.2:80", "203.0.113.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
