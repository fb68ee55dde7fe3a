package admin

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// Handlers exposes the Service over HTTP to system administrators
type Handlers struct {
	service *Service
}

// NewHandlers creates the administration handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the /admin routes. The router must be wrapped by
// session.Manager.Middleware; every route requires a system administrator.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/admin").Subrouter()
	r.Use(session.RequireSystemAdmin)

	r.HandleFunc("/catalog", h.GetCatalog).Methods(http.MethodGet)

	// Users
	r.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	r.HandleFunc("/users", h.AddUser).Methods(http.MethodPost)
	r.HandleFunc("/users/pending", h.ListPending).Methods(http.MethodGet)
	r.HandleFunc("/users/{email}", h.GetUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{email}", h.UpdateUser).Methods(http.MethodPatch)
	r.HandleFunc("/users/{email}", h.RemoveUser).Methods(http.MethodDelete)
	r.HandleFunc("/users/{email}/approve", h.ApproveUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{email}/audit", h.GetHistory).Methods(http.MethodGet)

	// Permissions
	r.HandleFunc("/users/{email}/permissions", h.GetPermissions).Methods(http.MethodGet)
	r.HandleFunc("/users/{email}/permissions", h.SetPermissions).Methods(http.MethodPut)
	r.HandleFunc("/users/{email}/pages/revoke-all", h.RevokeAllPages).Methods(http.MethodPost)
	r.HandleFunc("/users/{email}/pages/grant-all", h.GrantAllPages).Methods(http.MethodPost)
	r.HandleFunc("/users/{email}/pages/{page}/toggle", h.TogglePage).Methods(http.MethodPost)
	r.HandleFunc("/users/{email}/features/{feature}/toggle", h.ToggleFeature).Methods(http.MethodPost)
}

// actor is the real identity behind the request. View As never changes it.
func actor(r *http.Request) string {
	s, _ := session.FromContext(r.Context())
	return s.Real.Email
}

// GetCatalog returns the page and feature universe
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.service.Catalog())
}

// ListUsers returns every live profile
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// ListPending returns signups awaiting approval
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// AddUser creates an approved user
func (h *Handlers) AddUser(w http.ResponseWriter, r *http.Request) {
	var req NewUser
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	user, err := h.service.AddUser(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// GetUser returns one profile
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateUser patches role, department, display name or approval
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	var req UserUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	user, err := h.service.UpdateUser(r.Context(), actor(r), email, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// ApproveUser approves a pending signup
func (h *Handlers) ApproveUser(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	user, err := h.service.ApproveUser(r.Context(), actor(r), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// RemoveUser revokes future sign-ins
func (h *Handlers) RemoveUser(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	if err := h.service.RemoveUser(r.Context(), actor(r), email); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetHistory returns the audit trail for a user
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	events, err := h.service.History(r.Context(), email, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, events)
}

// GetPermissions returns a user's stored grants
func (h *Handlers) GetPermissions(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	g, err := h.service.GetUserPermissions(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, g)
}

// SetPermissions replaces a user's grants
func (h *Handlers) SetPermissions(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	var req access.GrantSet
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.SetUserFullPermissions(r.Context(), actor(r), email, req); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetPermissions(w, r)
}

// TogglePage flips one page
func (h *Handlers) TogglePage(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	page, ok := httputil.ParsePathStringOrError(w, r, "page")
	if !ok {
		return
	}
	g, err := h.service.TogglePage(r.Context(), actor(r), email, page)
	writeGrants(w, r, g, err)
}

// ToggleFeature flips one feature
func (h *Handlers) ToggleFeature(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	feature, ok := httputil.ParsePathStringOrError(w, r, "feature")
	if !ok {
		return
	}
	g, err := h.service.ToggleFeature(r.Context(), actor(r), email, feature)
	writeGrants(w, r, g, err)
}

// RevokeAllPages leaves only the dashboard
func (h *Handlers) RevokeAllPages(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	g, err := h.service.RevokeAllPages(r.Context(), actor(r), email)
	writeGrants(w, r, g, err)
}

// GrantAllPages grants every catalog page
func (h *Handlers) GrantAllPages(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}
	g, err := h.service.GrantAllPages(r.Context(), actor(r), email)
	writeGrants(w, r, g, err)
}

func writeGrants(w http.ResponseWriter, r *http.Request, g access.GrantSet, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, g)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *RejectionError
	switch {
	case errors.As(err, &rejection):
		httputil.WriteCodedError(w, http.StatusForbidden, rejection.Code, rejection.Error())
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrUserExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrInvalidRole),
		errors.Is(err, access.ErrUnknownPage),
		errors.Is(err, access.ErrUnknownFeature):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, audit.ErrQueryUnsupported):
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "audit history is not available")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Administration request failed")
		httputil.WriteInternalError(w, errors.New("internal error"))
	}
}
