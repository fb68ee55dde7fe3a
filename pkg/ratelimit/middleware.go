package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// Middleware applies one budget to signed-in users and another to anonymous
// callers. It must run after session.Manager.Middleware so the session is
// already on the request context.
type Middleware struct {
	sessions  Limiter
	anonymous Limiter
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewMiddleware creates the HTTP rate limiter. A nil limiter disables that scope.
func NewMiddleware(sessions, anonymous Limiter, logger *observability.Logger, metrics *observability.Metrics) *Middleware {
	return &Middleware{
		sessions:  sessions,
		anonymous: anonymous,
		logger:    logger,
		metrics:   metrics,
	}
}

// Handler wraps next with rate limiting
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, scope, key := m.anonymous, "ip", "ip:"+ClientIP(r)
		// Budgets follow the real user; View As never changes them
		if s, ok := session.FromContext(r.Context()); ok {
			limiter, scope, key = m.sessions, "user", "user:"+s.Real.Email
		}
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		d, err := limiter.Allow(r.Context(), key)
		if err != nil {
			// Fail open: a limiter outage must not lock everyone out
			m.logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
		if !d.Allowed {
			if m.metrics != nil {
				m.metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(d.RetryAfter)))
			httputil.WriteCodedError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// ClientIP returns the caller's address, preferring the first hop recorded
// by a proxy.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
