package admin

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when no profile exists for an email
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when adding a user that already has a live profile
	ErrUserExists = errors.New("user already exists")

	// ErrSystemAdminImmutable rejects writes against an allow-listed
	// system administrator. Compare with errors.Is.
	ErrSystemAdminImmutable = &RejectionError{
		Code:   "system_admin_immutable",
		Reason: "system administrator permissions cannot be modified",
	}
)

// RejectionError is a write the service declined before touching any store.
// It is meant to be shown to the administrator.
type RejectionError struct {
	Code   string
	Reason string
	Email  string
}

func (e *RejectionError) Error() string {
	if e.Email == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Email)
}

// Is matches any rejection with the same code
func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Code == e.Code
}

func rejectSystemAdmin(email string) *RejectionError {
	return &RejectionError{
		Code:   ErrSystemAdminImmutable.Code,
		Reason: ErrSystemAdminImmutable.Reason,
		Email:  email,
	}
}
