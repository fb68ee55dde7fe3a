package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/viewas"
)

var (
	// ErrNotFound is returned for an unknown or expired session id
	ErrNotFound = errors.New("session not found")

	// ErrNotApproved is returned when a non-admin signs in before approval
	ErrNotApproved = errors.New("account awaiting approval")

	// ErrNotSystemAdmin is returned when a non-admin tries to start View As
	ErrNotSystemAdmin = errors.New("only system administrators may view as another user")
)

// Session is one signed-in user. It owns the user's own grants, loaded once
// at sign-in, and the View As state.
type Session struct {
	ID        string
	Real      identity.Identity
	CreatedAt time.Time

	systemAdmin bool
	own         *access.GrantSet

	evaluator *access.Evaluator
	resolver  *identity.Resolver
	imp       *viewas.Impersonator
	trail     audit.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// IsSystemAdmin reports whether the real identity is on the allow-list.
// View As never changes the answer.
func (s *Session) IsSystemAdmin() bool {
	return s.systemAdmin
}

// IsViewingAs reports whether a View As target is set
func (s *Session) IsViewingAs() bool {
	return s.imp.IsViewingAs()
}

// RealAccess evaluates the real identity's own grants
func (s *Session) RealAccess() access.Access {
	return s.evaluator.Evaluate(s.own, s.systemAdmin)
}

// Access is the evaluated access of the effective identity
func (s *Session) Access() access.Access {
	return s.imp.EffectiveAccess(s.RealAccess())
}

// EnabledModules returns the pages the effective identity may navigate to
func (s *Session) EnabledModules() access.Set {
	return s.Access().Pages
}

// CanAccessPage answers a page check for the effective identity
func (s *Session) CanAccessPage(pageID string) bool {
	allowed := s.imp.EffectiveHasPermission(pageID, s.RealAccess().CanAccessPage(pageID))
	s.metrics.RecordAccessCheck("page", allowed, s.imp.IsViewingAs())
	return allowed
}

// CanUseFeature answers a feature check for the effective identity
func (s *Session) CanUseFeature(featureID string) bool {
	allowed := s.imp.EffectiveHasPermission(featureID, s.RealAccess().CanUseFeature(featureID))
	s.metrics.RecordAccessCheck("feature", allowed, s.imp.IsViewingAs())
	return allowed
}

// EffectiveUser returns the identity consumers should render for
func (s *Session) EffectiveUser() viewas.EffectiveUser {
	return s.imp.GetEffectiveUser(s.Real)
}

// EffectiveRole returns the role of the effective identity
func (s *Session) EffectiveRole() identity.Role {
	return s.imp.EffectiveRole(identity.RoleOrDefault(s.Real.Role))
}

// StartViewingAs switches the effective identity to email. An email with no
// profile is viewed as a brand-new user with the default role.
func (s *Session) StartViewingAs(ctx context.Context, email string) error {
	if !s.systemAdmin {
		s.writeAudit(ctx, audit.NewEvent(ctx, audit.EventTypeViewAsStart, audit.EventStatusDenied, s.Real.Email, email).
			WithMessage(ErrNotSystemAdmin.Error()))
		return ErrNotSystemAdmin
	}

	target, err := s.resolver.Lookup(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidEmail) {
			return err
		}
		s.logger.WithError(err).WithField("target", email).Warn("Target lookup failed, viewing as a bare identity")
		target = identity.Bare(email)
	}

	if err := s.imp.StartViewingAs(target); err != nil {
		return fmt.Errorf("failed to start view as: %w", err)
	}
	s.writeAudit(ctx, audit.ViewAs(ctx, audit.EventTypeViewAsStart, s.Real.Email, target.Email))
	return nil
}

// StopViewingAs returns to the real identity
func (s *Session) StopViewingAs(ctx context.Context) {
	target, ok := s.imp.Target()
	if !ok {
		return
	}
	s.imp.StopViewingAs()
	s.writeAudit(ctx, audit.ViewAs(ctx, audit.EventTypeViewAsStop, s.Real.Email, target.Email))
}

// Wait blocks until a pending View As target has loaded
func (s *Session) Wait(ctx context.Context) error {
	return s.imp.Wait(ctx)
}

// Snapshot is the JSON view of a session
type Snapshot struct {
	ID          string               `json:"id"`
	User        viewas.EffectiveUser `json:"user"`
	RealUser    identity.Identity    `json:"real_user"`
	Role        identity.Role        `json:"role"`
	SystemAdmin bool                 `json:"system_admin"`
	ViewingAs   bool                 `json:"viewing_as"`
	ViewAsState string               `json:"view_as_state"`
	Pages       []string             `json:"pages"`
	Features    []string             `json:"features"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Snapshot captures the current effective state
func (s *Session) Snapshot() Snapshot {
	user := s.EffectiveUser()
	a := s.Access()
	return Snapshot{
		ID:          s.ID,
		User:        user,
		RealUser:    user.RealUser(),
		Role:        s.EffectiveRole(),
		SystemAdmin: s.systemAdmin,
		ViewingAs:   user.ViewingAs,
		ViewAsState: s.imp.State().String(),
		Pages:       a.Pages.Slice(),
		Features:    a.Features.Slice(),
		CreatedAt:   s.CreatedAt,
	}
}

func (s *Session) writeAudit(ctx context.Context, e *audit.Event) {
	if err := s.trail.Log(ctx, e); err != nil {
		s.logger.WithError(err).WithField("event_type", string(e.EventType)).Warn("Failed to write audit event")
	}
}

func (s *Session) close() {
	s.imp.Close()
}
