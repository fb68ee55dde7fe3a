package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const stateCookieName = "gatehouse_login_state"

// viewAsWait bounds how long POST /session/view-as waits for target grants
const viewAsWait = 5 * time.Second

// Handlers serves sign-in, sign-out and the session API
type Handlers struct {
	manager       *Manager
	authenticator auth.Authenticator
	cookieSecure  bool
}

// NewHandlers creates the session HTTP handlers
func NewHandlers(manager *Manager, authenticator auth.Authenticator, cookieSecure bool) *Handlers {
	return &Handlers{
		manager:       manager,
		authenticator: authenticator,
		cookieSecure:  cookieSecure,
	}
}

// RegisterRoutes registers the auth and session routes. The router must be
// wrapped by Manager.Middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	router.HandleFunc("/auth/callback", h.callback).Methods(http.MethodGet)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)

	router.Handle("/session", RequireSession(http.HandlerFunc(h.getSession))).Methods(http.MethodGet)
	router.Handle("/session/view-as", RequireSystemAdmin(http.HandlerFunc(h.startViewAs))).Methods(http.MethodPost)
	router.Handle("/session/view-as", RequireSession(http.HandlerFunc(h.stopViewAs))).Methods(http.MethodDelete)
	router.Handle("/session/access/pages/{page}", RequireSession(http.HandlerFunc(h.checkPage))).Methods(http.MethodGet)
	router.Handle("/session/access/features/{feature}", RequireSession(http.HandlerFunc(h.checkFeature))).Methods(http.MethodGet)
}

// login signs in with request credentials, or starts the provider redirect
// when the authenticator supports one and none were presented
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authenticator.Authenticate(r)
	if err != nil {
		flow, ok := h.authenticator.(auth.LoginFlow)
		if !ok || !errors.Is(err, auth.ErrUnauthenticated) {
			observability.FromContext(r.Context()).WithError(err).Info("Login rejected")
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		state, err := auth.GenerateState()
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookieName,
			Value:    state,
			Path:     "/auth/callback",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   h.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, flow.LoginURL(state), http.StatusSeeOther)
		return
	}

	h.open(w, r, principal)
}

func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.authenticator.(auth.LoginFlow)
	if !ok {
		httputil.WriteNotFoundError(w, "login flow not configured")
		return
	}

	var issued string
	if c, err := r.Cookie(stateCookieName); err == nil {
		issued = c.Value
	}
	if err := auth.ValidateState(issued, r.URL.Query().Get("state")); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/auth/callback", MaxAge: -1})

	principal, err := flow.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Login code exchange failed")
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}
	h.open(w, r, principal)
}

func (h *Handlers) open(w http.ResponseWriter, r *http.Request, principal identity.Principal) {
	s, err := h.manager.Open(r.Context(), principal)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotApproved):
		httputil.WriteCodedError(w, http.StatusForbidden, "awaiting_approval", err.Error())
		return
	case errors.Is(err, identity.ErrInvalidEmail):
		httputil.WriteBadRequest(w, err.Error())
		return
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Failed to open session")
		httputil.WriteInternalError(w, errors.New("failed to open session"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(h.manager.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteSuccess(w, s.Snapshot())
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := FromContext(r.Context()); ok {
		if err := h.manager.Close(r.Context(), s.ID); err != nil && !errors.Is(err, ErrNotFound) {
			httputil.WriteInternalError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: CookieName, Path: "/", MaxAge: -1})
	httputil.WriteNoContent(w)
}

func (h *Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, _ := FromContext(r.Context())
	httputil.WriteSuccess(w, s.Snapshot())
}

type viewAsRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) startViewAs(w http.ResponseWriter, r *http.Request) {
	s, _ := FromContext(r.Context())

	var req viewAsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	if err := s.StartViewingAs(r.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidEmail):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, ErrNotSystemAdmin):
			httputil.WriteForbidden(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	// A timeout still returns the session, reporting the loading state
	ctx, cancel := context.WithTimeout(r.Context(), viewAsWait)
	defer cancel()
	_ = s.Wait(ctx)

	httputil.WriteSuccess(w, s.Snapshot())
}

func (h *Handlers) stopViewAs(w http.ResponseWriter, r *http.Request) {
	s, _ := FromContext(r.Context())
	s.StopViewingAs(r.Context())
	httputil.WriteSuccess(w, s.Snapshot())
}

// AccessCheck is the response of the single page and feature checks
type AccessCheck struct {
	ID        string `json:"id"`
	Allowed   bool   `json:"allowed"`
	ViewingAs bool   `json:"viewing_as"`
}

func (h *Handlers) checkPage(w http.ResponseWriter, r *http.Request) {
	s, _ := FromContext(r.Context())
	page, ok := httputil.ParsePathStringOrError(w, r, "page")
	if !ok {
		return
	}
	httputil.WriteSuccess(w, AccessCheck{ID: page, Allowed: s.CanAccessPage(page), ViewingAs: s.IsViewingAs()})
}

func (h *Handlers) checkFeature(w http.ResponseWriter, r *http.Request) {
	s, _ := FromContext(r.Context())
	feature, ok := httputil.ParsePathStringOrError(w, r, "feature")
	if !ok {
		return
	}
	httputil.WriteSuccess(w, AccessCheck{ID: feature, Allowed: s.CanUseFeature(feature), ViewingAs: s.IsViewingAs()})
}
