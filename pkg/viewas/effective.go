package viewas

import "github.com/platinummonkey/gatehouse/pkg/identity"

// EffectiveUser is the identity every permission check should use. While
// viewing it is the target, marked with ViewingAs, and still remembers the
// real identity. The real identity is never serialized.
type EffectiveUser struct {
	identity.Identity
	ViewingAs bool `json:"viewing_as"`

	real *identity.Identity
}

// RealUser returns the authenticated identity behind this effective user
func (u EffectiveUser) RealUser() identity.Identity {
	if u.real == nil {
		return u.Identity.Clone()
	}
	return u.real.Clone()
}
