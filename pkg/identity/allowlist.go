package identity

import "sort"

// DefaultSystemAdmins is used when no allow-list is configured
var DefaultSystemAdmins = []string{"admin@gatehouse.local"}

// AdminAllowList is the set of System Administrator emails. Members are
// always fully permitted and their grants are never stored.
type AdminAllowList struct {
	emails map[string]struct{}
}

// NewAdminAllowList builds an allow-list, normalizing every entry
func NewAdminAllowList(emails ...string) *AdminAllowList {
	l := &AdminAllowList{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if n := NormalizeEmail(e); n != "" {
			l.emails[n] = struct{}{}
		}
	}
	return l
}

// IsSystemAdmin reports whether email is on the allow-list, ignoring case.
// A nil list has no members.
func (l *AdminAllowList) IsSystemAdmin(email string) bool {
	if l == nil {
		return false
	}
	_, ok := l.emails[NormalizeEmail(email)]
	return ok
}

// Emails returns the sorted members
func (l *AdminAllowList) Emails() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.emails))
	for e := range l.emails {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
