package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
// It must be called directly in a defer statement. The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and runs callback
// only when a panic occurred.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
		if callback != nil {
			callback()
		}
	}
}

func logPanic(logger *Logger, context string, r interface{}) {
	logger.WithField("panic", r).
		WithField("stack", string(debug.Stack())).
		WithField("context", context).
		Error("PANIC recovered")
}

// RecoveryMiddleware turns handler panics into 500 responses
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logPanic(FromContext(r.Context()), r.Method+" "+r.URL.Path, rec)
					httputil.WriteInternalError(w, fmt.Errorf("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger stores logger in the request context and logs each request
// once it completes.
func RequestLogger(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLogger(r.Context(), logger)
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r.WithContext(ctx))

			UpdateLoggerWithTraceContext(ctx, FromContext(ctx)).WithFields(map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": rw.statusCode,
			}).Debug("request completed")
		})
	}
}
