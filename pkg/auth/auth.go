package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

var (
	// ErrUnauthenticated is returned when a request carries no usable credentials
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidState is returned when a login callback state does not match
	ErrInvalidState = errors.New("invalid login state")
)

// Authenticator extracts an already-validated principal from a request
type Authenticator interface {
	Authenticate(r *http.Request) (identity.Principal, error)
}

// LoginFlow is implemented by authenticators that sign users in through a
// browser redirect
type LoginFlow interface {
	LoginURL(state string) string
	Exchange(ctx context.Context, code string) (identity.Principal, error)
}

// Header names set by a trusted authenticating proxy
const (
	HeaderEmail = "X-Forwarded-Email"
	HeaderUser  = "X-Forwarded-User"
)

// HeaderAuthenticator trusts identity headers set by a reverse proxy.
// Only deploy it behind a proxy that strips these headers from clients.
type HeaderAuthenticator struct{}

// NewHeaderAuthenticator creates a trusted-header authenticator
func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{}
}

// Authenticate reads the principal from the proxy headers
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (identity.Principal, error) {
	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	if email == "" {
		return identity.Principal{}, ErrUnauthenticated
	}
	user := strings.TrimSpace(r.Header.Get(HeaderUser))
	return identity.Principal{
		Email:       identity.NormalizeEmail(email),
		DisplayName: user,
		Subject:     user,
	}, nil
}

// bearerToken returns the token from an Authorization: Bearer header
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
