package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// OIDCConfig configures the OpenID Connect authenticator
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Validate checks the OIDC configuration
func (c OIDCConfig) Validate() error {
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

// OIDCAuthenticator verifies OpenID Connect ID tokens and runs the
// authorization-code login flow
type OIDCAuthenticator struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCAuthenticator discovers the provider and builds the authenticator
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC config: %w", err)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCAuthenticator{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// Authenticate accepts an ID token presented as a bearer token
func (a *OIDCAuthenticator) Authenticate(r *http.Request) (identity.Principal, error) {
	raw := bearerToken(r)
	if raw == "" {
		return identity.Principal{}, ErrUnauthenticated
	}
	return a.verify(r.Context(), raw)
}

// LoginURL returns the provider authorization URL for state
func (a *OIDCAuthenticator) LoginURL(state string) string {
	return a.oauth2Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified principal
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code string) (identity.Principal, error) {
	if code == "" {
		return identity.Principal{}, fmt.Errorf("missing authorization code")
	}

	token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return identity.Principal{}, fmt.Errorf("missing id_token in response")
	}
	return a.verify(ctx, raw)
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

func (a *OIDCAuthenticator) verify(ctx context.Context, raw string) (identity.Principal, error) {
	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("%w: failed to verify ID token: %v", ErrUnauthenticated, err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return identity.Principal{}, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return identity.Principal{}, fmt.Errorf("%w: missing email in ID token", ErrUnauthenticated)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return identity.Principal{}, fmt.Errorf("%w: email not verified", ErrUnauthenticated)
	}

	return identity.Principal{
		Email:       identity.NormalizeEmail(claims.Email),
		DisplayName: claims.Name,
		Subject:     idToken.Subject,
	}, nil
}
