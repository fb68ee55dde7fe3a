package session

import (
	"context"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

// Where the session id is read from
const (
	CookieName      = "gatehouse_session"
	HeaderSessionID = "X-Session-ID"
)

// FromContext returns the session attached by Middleware
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextkeys.SessionKey).(*Session)
	return s, ok && s != nil
}

// WithSession attaches s to ctx
func WithSession(ctx context.Context, s *Session) context.Context {
	ctx = contextkeys.WithSession(ctx, s)
	return contextkeys.WithSessionID(ctx, s.ID)
}

func sessionID(r *http.Request) string {
	if id := r.Header.Get(HeaderSessionID); id != "" {
		return id
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware attaches the caller's session, if any, to the request context.
// Requests without a live session pass through unchanged.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := sessionID(r); id != "" {
			if s, err := m.Get(id); err == nil {
				r = r.WithContext(WithSession(r.Context(), s))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession rejects requests without a live session
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSystemAdmin rejects callers whose real identity is not an allow-listed
// system administrator
func RequireSystemAdmin(next http.Handler) http.Handler {
	return RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := FromContext(r.Context())
		if !s.IsSystemAdmin() {
			httputil.WriteForbidden(w, "system administrator required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequirePage rejects callers whose effective identity cannot open pageID
func RequirePage(pageID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, _ := FromContext(r.Context())
			if !s.CanAccessPage(pageID) {
				httputil.WriteForbidden(w, "page not enabled: "+pageID)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// RequireFeature rejects callers whose effective identity lacks featureID
func RequireFeature(featureID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, _ := FromContext(r.Context())
			if !s.CanUseFeature(featureID) {
				httputil.WriteForbidden(w, "feature not granted: "+featureID)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
