// Package ratelimit throttles API traffic per signed-in user and per client IP.
//
// Two limiter backends are provided. MemoryLimiter keeps a token bucket per
// key inside the process and suits a single replica. RedisLimiter counts
// requests in fixed windows in Redis so every replica shares one budget.
//
// # Usage
//
//	rl := ratelimit.NewMiddleware(
//		ratelimit.NewMemoryLimiter(ratelimit.SessionConfig()),
//		ratelimit.NewMemoryLimiter(ratelimit.AnonymousConfig()),
//		logger, metrics,
//	)
//	handler := httputil.Chain(manager.Middleware, rl.Handler)(router)
//
// Rejected requests receive 429 with a Retry-After header and the
// "rate_limited" error code. Limiter errors are logged and the request is
// let through.
package ratelimit
