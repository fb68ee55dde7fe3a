// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that the
// session middleware, the logger and the handlers agree on them.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//	ctx = contextkeys.WithSession(ctx, sess)
//	sess, _ := ctx.Value(contextkeys.SessionKey).(*session.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.Session
	// Set by: session.Middleware (pkg/session/middleware.go)
	// Required by: every permission-gated handler
	SessionKey Key = "session"

	// SessionIDKey contains the session id string
	// Set by: session.Middleware
	// Used by: Logger, audit trail
	SessionIDKey Key = "session_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.RequestLogger
	LoggerKey Key = "logger"
)

// WithSession adds the session to the context
func WithSession(ctx context.Context, sess interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// WithSessionID adds the session id to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetSessionID retrieves the session id from context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}
