package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Principal is the already-validated identity supplied by the auth provider
type Principal struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Subject     string `json:"subject,omitempty"`
}

// Resolver turns an authenticated principal into the real Identity and
// answers role and admin lookups keyed by normalized email.
type Resolver struct {
	admins   *AdminAllowList
	profiles ProfileStore
	logger   *observability.Logger
	now      func() time.Time
}

// NewResolver creates a resolver
func NewResolver(admins *AdminAllowList, profiles ProfileStore, logger *observability.Logger) *Resolver {
	return &Resolver{
		admins:   admins,
		profiles: profiles,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the identity for p. Allow-listed emails always resolve to
// an approved admin even without a profile. Unknown emails are recorded as
// pending signups.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (Identity, error) {
	email, err := ParseEmail(p.Email)
	if err != nil {
		return Identity{}, err
	}
	log := r.logger.WithField("email", email)

	profile, err := r.profiles.Get(ctx, email)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		if r.admins.IsSystemAdmin(email) {
			log.WithError(err).Warn("Profile lookup failed for system admin, continuing without profile")
			profile = nil
		} else {
			return Identity{}, fmt.Errorf("failed to resolve identity: %w", err)
		}
	}

	if r.admins.IsSystemAdmin(email) {
		id := Identity{Email: email, DisplayName: p.DisplayName, CreatedAt: r.now()}
		if profile != nil {
			id = profile.Clone()
		}
		if id.DisplayName == "" {
			id.DisplayName = p.DisplayName
		}
		id.Role = RoleAdmin
		id.IsApproved = true
		id.RemovedAt = nil
		return id, nil
	}

	if profile != nil {
		return *profile, nil
	}

	now := r.now()
	pending := Identity{
		Email:       email,
		DisplayName: p.DisplayName,
		Role:        DefaultRole,
		IsApproved:  false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := r.profiles.Create(ctx, pending)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to record pending signup: %w", err)
	}
	if !created {
		// A profile was stored after the lookup above, usually by an admin
		profile, err := r.profiles.Get(ctx, email)
		if err != nil {
			return Identity{}, fmt.Errorf("failed to resolve identity: %w", err)
		}
		return *profile, nil
	}
	log.Info("Recorded pending signup")
	return pending, nil
}

// Lookup returns the stored identity for email, or a bare identity with the
// default role when none exists. It never creates records.
func (r *Resolver) Lookup(ctx context.Context, email string) (Identity, error) {
	normalized, err := ParseEmail(email)
	if err != nil {
		return Identity{}, err
	}

	profile, err := r.profiles.Get(ctx, normalized)
	switch {
	case err == nil:
		return *profile, nil
	case errors.Is(err, ErrProfileNotFound):
		id := Bare(normalized)
		if r.admins.IsSystemAdmin(normalized) {
			id.Role = RoleAdmin
		}
		return id, nil
	default:
		return Identity{}, fmt.Errorf("failed to look up identity: %w", err)
	}
}

// RoleOf returns the role for email, falling back to DefaultRole
func (r *Resolver) RoleOf(ctx context.Context, email string) Role {
	normalized, err := ParseEmail(email)
	if err != nil {
		return DefaultRole
	}
	if r.admins.IsSystemAdmin(normalized) {
		return RoleAdmin
	}
	profile, err := r.profiles.Get(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			r.logger.WithError(err).WithField("email", normalized).Warn("Role lookup failed")
		}
		return DefaultRole
	}
	return RoleOrDefault(profile.Role)
}

// IsSystemAdmin reports whether email is on the admin allow-list
func (r *Resolver) IsSystemAdmin(email string) bool {
	return r.admins.IsSystemAdmin(email)
}

// Profiles returns the backing profile store
func (r *Resolver) Profiles() ProfileStore {
	return r.profiles
}
