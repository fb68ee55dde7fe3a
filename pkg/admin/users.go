package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// NewUser is an administrator-created account. It is approved on creation.
type NewUser struct {
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name"`
	Role        identity.Role `json:"role"`
	Department  string        `json:"department"`
}

// UserUpdate changes selected profile fields. Nil fields are left as is.
type UserUpdate struct {
	DisplayName *string          `json:"display_name,omitempty"`
	Role        *identity.Role   `json:"role,omitempty"`
	Roles       *[]identity.Role `json:"roles,omitempty"`
	Department  *string          `json:"department,omitempty"`
	IsApproved  *bool            `json:"is_approved,omitempty"`
}

// ListUsers returns every live profile
func (s *Service) ListUsers(ctx context.Context) ([]identity.Identity, error) {
	users, err := s.resolver.Profiles().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ListPending returns signups awaiting approval
func (s *Service) ListPending(ctx context.Context) ([]identity.Identity, error) {
	users, err := s.resolver.Profiles().ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending users: %w", err)
	}
	return users, nil
}

// GetUser returns the profile for email
func (s *Service) GetUser(ctx context.Context, email string) (identity.Identity, error) {
	email, err := identity.ParseEmail(email)
	if err != nil {
		return identity.Identity{}, err
	}
	return s.getProfile(ctx, email)
}

// AddUser creates an approved profile. A previously removed user is restored.
func (s *Service) AddUser(ctx context.Context, actor string, u NewUser) (identity.Identity, error) {
	email, err := identity.ParseEmail(u.Email)
	if err != nil {
		return identity.Identity{}, err
	}
	role := identity.RoleOrDefault(u.Role)
	if !identity.IsValidRole(role) {
		return identity.Identity{}, fmt.Errorf("%w: %s", identity.ErrInvalidRole, u.Role)
	}

	existing, err := s.getProfile(ctx, email)
	switch {
	case err == nil && !existing.IsRemoved():
		return identity.Identity{}, fmt.Errorf("%w: %s", ErrUserExists, email)
	case err != nil && !errors.Is(err, ErrUserNotFound):
		return identity.Identity{}, err
	}

	now := s.now()
	user := identity.Identity{
		Email:       email,
		DisplayName: u.DisplayName,
		Role:        role,
		Department:  u.Department,
		IsApproved:  true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.putProfile(ctx, user); err != nil {
		return identity.Identity{}, err
	}
	s.logAudit(ctx, audit.NewEvent(ctx, audit.EventTypeUserAdd, audit.EventStatusSuccess, actor, email).
		WithChanges(nil, user))
	return user, nil
}

// ApproveUser approves a pending signup
func (s *Service) ApproveUser(ctx context.Context, actor, email string) (identity.Identity, error) {
	return s.modify(ctx, actor, email, audit.EventTypeUserApprove, func(u *identity.Identity) error {
		u.IsApproved = true
		u.RemovedAt = nil
		return nil
	})
}

// UpdateUser applies the non-nil fields of update
func (s *Service) UpdateUser(ctx context.Context, actor, email string, update UserUpdate) (identity.Identity, error) {
	return s.modify(ctx, actor, email, audit.EventTypeUserUpdate, func(u *identity.Identity) error {
		if update.Role != nil {
			if !identity.IsValidRole(*update.Role) {
				return fmt.Errorf("%w: %s", identity.ErrInvalidRole, *update.Role)
			}
			u.Role = *update.Role
		}
		if update.Roles != nil {
			for _, r := range *update.Roles {
				if !identity.IsValidRole(r) {
					return fmt.Errorf("%w: %s", identity.ErrInvalidRole, r)
				}
			}
			u.Roles = append([]identity.Role(nil), (*update.Roles)...)
		}
		if update.DisplayName != nil {
			u.DisplayName = *update.DisplayName
		}
		if update.Department != nil {
			u.Department = *update.Department
		}
		if update.IsApproved != nil {
			u.IsApproved = *update.IsApproved
		}
		return nil
	})
}

// RemoveUser revokes future sign-ins for email. Grants are kept so a restored
// user gets them back; sessions already open are not affected.
func (s *Service) RemoveUser(ctx context.Context, actor, email string) error {
	email, err := s.writable(ctx, actor, email)
	if err != nil {
		return err
	}
	_, err = s.modify(ctx, actor, email, audit.EventTypeUserRemove, func(u *identity.Identity) error {
		now := s.now()
		u.RemovedAt = &now
		return nil
	})
	return err
}

func (s *Service) modify(ctx context.Context, actor, email string, eventType audit.EventType, fn func(*identity.Identity) error) (identity.Identity, error) {
	email, err := identity.ParseEmail(email)
	if err != nil {
		return identity.Identity{}, err
	}
	before, err := s.getProfile(ctx, email)
	if err != nil {
		return identity.Identity{}, err
	}

	after := before.Clone()
	if err := fn(&after); err != nil {
		return identity.Identity{}, err
	}
	after.UpdatedAt = s.now()

	if err := s.putProfile(ctx, after); err != nil {
		return identity.Identity{}, err
	}
	s.logger.WithFields(map[string]interface{}{
		"actor":      actor,
		"target":     email,
		"event_type": string(eventType),
	}).Info("User updated")
	s.logAudit(ctx, audit.NewEvent(ctx, eventType, audit.EventStatusSuccess, actor, email).
		WithChanges(before, after))
	return after, nil
}

func (s *Service) getProfile(ctx context.Context, email string) (identity.Identity, error) {
	p, err := s.resolver.Profiles().Get(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			return identity.Identity{}, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return identity.Identity{}, fmt.Errorf("failed to load user: %w", err)
	}
	return *p, nil
}

func (s *Service) putProfile(ctx context.Context, u identity.Identity) error {
	if err := s.resolver.Profiles().Put(ctx, u); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}
