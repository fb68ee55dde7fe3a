package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/grants"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Service is the permission administration contract. Every write is a full
// document replace; concurrent edits of one user resolve last write wins.
type Service struct {
	store     grants.Store
	resolver  *identity.Resolver
	evaluator *access.Evaluator
	trail     audit.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewService creates an administration service
func NewService(store grants.Store, resolver *identity.Resolver, evaluator *access.Evaluator, trail audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if trail == nil {
		trail = audit.NewNopLogger()
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		evaluator: evaluator,
		trail:     trail,
		logger:    logger.WithField("component", "admin"),
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the page and feature universe grants are validated against
func (s *Service) Catalog() *access.Catalog {
	return s.evaluator.Catalog()
}

// GetUserPermissions returns the stored grants for email. A missing document
// is an empty grant set; a system administrator always reads as the full
// catalog and the store is never consulted.
func (s *Service) GetUserPermissions(ctx context.Context, email string) (access.GrantSet, error) {
	email, err := identity.ParseEmail(email)
	if err != nil {
		return access.GrantSet{}, err
	}
	if s.resolver.IsSystemAdmin(email) {
		return s.evaluator.FullGrant(), nil
	}

	g, err := s.store.Get(ctx, email)
	if err != nil {
		return access.GrantSet{}, fmt.Errorf("failed to load permissions: %w", err)
	}
	if g == nil {
		return access.Empty(), nil
	}
	return g.Normalized(), nil
}

// SetUserFullPermissions replaces every grant for email. The dashboard is
// always kept. System administrators are rejected before any store call.
func (s *Service) SetUserFullPermissions(ctx context.Context, actor, email string, g access.GrantSet) error {
	email, err := s.writable(ctx, actor, email)
	if err != nil {
		return err
	}

	before, err := s.store.Get(ctx, email)
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Debug("Could not read previous grants for audit")
		before = nil
	}
	_, err = s.save(ctx, actor, email, before, g)
	return err
}

// TogglePage flips one page for email and returns the saved grants
func (s *Service) TogglePage(ctx context.Context, actor, email, pageID string) (access.GrantSet, error) {
	return s.update(ctx, actor, email, func(g access.GrantSet) (access.GrantSet, error) {
		if !s.evaluator.Catalog().HasPage(pageID) {
			return access.GrantSet{}, fmt.Errorf("%w: %s", access.ErrUnknownPage, pageID)
		}
		return access.TogglePage(g, pageID), nil
	})
}

// ToggleFeature flips one feature for email and returns the saved grants
func (s *Service) ToggleFeature(ctx context.Context, actor, email, featureID string) (access.GrantSet, error) {
	return s.update(ctx, actor, email, func(g access.GrantSet) (access.GrantSet, error) {
		if !s.evaluator.Catalog().HasFeature(featureID) {
			return access.GrantSet{}, fmt.Errorf("%w: %s", access.ErrUnknownFeature, featureID)
		}
		return access.ToggleFeature(g, featureID), nil
	})
}

// RevokeAllPages leaves exactly the dashboard. Features are kept.
func (s *Service) RevokeAllPages(ctx context.Context, actor, email string) (access.GrantSet, error) {
	return s.update(ctx, actor, email, func(g access.GrantSet) (access.GrantSet, error) {
		return access.RevokeAllPages(g), nil
	})
}

// GrantAllPages grants every catalog page. Features are kept.
func (s *Service) GrantAllPages(ctx context.Context, actor, email string) (access.GrantSet, error) {
	return s.update(ctx, actor, email, func(g access.GrantSet) (access.GrantSet, error) {
		return s.evaluator.GrantAllPages(g), nil
	})
}

// update reads the current document, applies fn and saves the result. Read
// failures abort the write so a store outage can never wipe grants.
func (s *Service) update(ctx context.Context, actor, email string, fn func(access.GrantSet) (access.GrantSet, error)) (access.GrantSet, error) {
	email, err := s.writable(ctx, actor, email)
	if err != nil {
		return access.GrantSet{}, err
	}

	before, err := s.store.Get(ctx, email)
	if err != nil {
		return access.GrantSet{}, fmt.Errorf("failed to load permissions: %w", err)
	}
	current := access.Empty()
	if before != nil {
		current = before.Normalized()
	}

	next, err := fn(current)
	if err != nil {
		return access.GrantSet{}, err
	}
	return s.save(ctx, actor, email, before, next)
}

// writable normalizes email and refuses system administrators
func (s *Service) writable(ctx context.Context, actor, email string) (string, error) {
	email, err := identity.ParseEmail(email)
	if err != nil {
		return "", err
	}
	if s.resolver.IsSystemAdmin(email) {
		rejection := rejectSystemAdmin(email)
		if s.metrics != nil {
			s.metrics.WriteRejectionsTotal.Inc()
		}
		s.logger.WithFields(map[string]interface{}{
			"actor":  actor,
			"target": email,
		}).Warn("Rejected permission write against system administrator")
		s.logAudit(ctx, audit.GrantsRejected(ctx, actor, email, rejection.Reason))
		return "", rejection
	}
	return email, nil
}

func (s *Service) save(ctx context.Context, actor, email string, before *access.GrantSet, g access.GrantSet) (access.GrantSet, error) {
	if err := s.evaluator.Validate(g); err != nil {
		return access.GrantSet{}, err
	}
	after := access.WithDashboard(g)

	if err := s.store.Set(grants.WithActor(ctx, actor), email, after); err != nil {
		return access.GrantSet{}, fmt.Errorf("failed to save permissions: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"actor":    actor,
		"target":   email,
		"pages":    len(after.Pages),
		"features": len(after.Features),
	}).Info("Permissions updated")
	s.logAudit(ctx, audit.GrantsSet(ctx, actor, email, before, after))
	return after, nil
}

func (s *Service) logAudit(ctx context.Context, e *audit.Event) {
	if err := s.trail.Log(ctx, e); err != nil {
		s.logger.WithError(err).WithField("event_type", string(e.EventType)).Warn("Failed to write audit event")
	}
}

// History returns recent audit events targeting email, newest first
func (s *Service) History(ctx context.Context, email string, limit int) ([]audit.Event, error) {
	email, err := identity.ParseEmail(email)
	if err != nil {
		return nil, err
	}
	q, ok := s.trail.(audit.Querier)
	if !ok {
		return nil, audit.ErrQueryUnsupported
	}
	return q.Query(ctx, audit.Filter{Target: email, Limit: limit})
}
