// Package auth adapts the portal's identity provider to gatehouse.
//
// Authentication itself is delegated: an Authenticator only turns an
// already-authenticated request into an identity.Principal.
//
// # Authenticators
//
// HeaderAuthenticator trusts X-Forwarded-Email and X-Forwarded-User from an
// authenticating reverse proxy.
//
// OIDCAuthenticator verifies OpenID Connect ID tokens, either presented as
// bearer tokens or obtained through the authorization-code flow:
//
//	a, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
//		IssuerURL:    "https://accounts.google.com",
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//		RedirectURL:  "https://portal.example.com/auth/callback",
//	})
//	state, _ := auth.GenerateState()
//	http.Redirect(w, r, a.LoginURL(state), http.StatusSeeOther)
//	// later, in the callback
//	principal, err := a.Exchange(ctx, r.URL.Query().Get("code"))
package auth
