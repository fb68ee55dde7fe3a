package identity

import (
	"errors"
	"strings"
	"time"
)

// Role is one of the portal's fixed roles
type Role string

const (
	RoleAdmin              Role = "admin"
	RoleDirector           Role = "director"
	RoleHRManager          Role = "hr_manager"
	RoleManager            Role = "manager"
	RoleContentManager     Role = "content_manager"
	RoleSocialMediaManager Role = "social_media_manager"
	RoleEmployee           Role = "employee"
	RoleClient             Role = "client"
)

// DefaultRole is assumed whenever an identity has no role set
const DefaultRole = RoleEmployee

var (
	// ErrInvalidEmail is returned for empty or malformed email addresses
	ErrInvalidEmail = errors.New("invalid email")

	// ErrInvalidRole is returned for roles outside the fixed enum
	ErrInvalidRole = errors.New("invalid role")

	// ErrProfileNotFound is returned when no profile exists for an email
	ErrProfileNotFound = errors.New("profile not found")
)

// AllRoles returns every valid role
func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleDirector,
		RoleHRManager,
		RoleManager,
		RoleContentManager,
		RoleSocialMediaManager,
		RoleEmployee,
		RoleClient,
	}
}

// IsValidRole reports whether r is one of the fixed roles
func IsValidRole(r Role) bool {
	for _, valid := range AllRoles() {
		if r == valid {
			return true
		}
	}
	return false
}

// RoleOrDefault returns r, or DefaultRole when r is empty
func RoleOrDefault(r Role) Role {
	if r == "" {
		return DefaultRole
	}
	return r
}

// NormalizeEmail trims and lowercases an email. Every lookup key in the
// service goes through this exactly once, at the boundary.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ParseEmail normalizes email and rejects values that cannot be an address
func ParseEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	at := strings.LastIndex(normalized, "@")
	if at <= 0 || at == len(normalized)-1 || strings.ContainsAny(normalized, " \t\r\n/") {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

// Identity is a user record keyed by normalized email
type Identity struct {
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	Roles       []Role     `json:"roles,omitempty"`
	Department  string     `json:"department,omitempty"`
	IsApproved  bool       `json:"is_approved"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
}

// IsRemoved reports whether the identity was removed by an administrator
func (i Identity) IsRemoved() bool {
	return i.RemovedAt != nil
}

// IsPending reports whether the identity is an unapproved signup
func (i Identity) IsPending() bool {
	return !i.IsApproved && !i.IsRemoved()
}

// HasRole reports whether r is the primary role or one of the extra roles
func (i Identity) HasRole(r Role) bool {
	if RoleOrDefault(i.Role) == r {
		return true
	}
	for _, role := range i.Roles {
		if role == r {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (i Identity) Clone() Identity {
	out := i
	if i.Roles != nil {
		out.Roles = append([]Role(nil), i.Roles...)
	}
	if i.RemovedAt != nil {
		t := *i.RemovedAt
		out.RemovedAt = &t
	}
	return out
}

// Bare returns the identity assumed for an email with no profile
func Bare(email string) Identity {
	return Identity{
		Email: NormalizeEmail(email),
		Role:  DefaultRole,
	}
}
