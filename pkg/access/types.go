package access

import (
	"errors"
	"sort"
)

// PageDashboard is always granted and can never be revoked
const PageDashboard = "dashboard"

var (
	// ErrUnknownPage is returned when a grant names a page missing from the catalog
	ErrUnknownPage = errors.New("unknown page id")

	// ErrUnknownFeature is returned when a grant names a feature missing from the catalog
	ErrUnknownFeature = errors.New("unknown feature id")
)

// Set is an unordered set of page or feature ids
type Set map[string]struct{}

// NewSet builds a set from ids, dropping empty strings and duplicates
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is a member of the set. A nil set has no members.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts ids into the set
func (s Set) Add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

// Remove deletes id from the set
func (s Set) Remove(id string) {
	delete(s, id)
}

// Union returns a new set holding the members of s and other
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Slice returns the members sorted, which keeps stored documents stable
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same members
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// GrantSet is the stored document for one user: explicitly granted pages and
// features. It is also the JSON shape persisted by every store backend.
type GrantSet struct {
	Pages    []string `json:"pages"`
	Features []string `json:"features"`
}

// PageSet returns the stored pages as a set. Safe on a nil receiver.
func (g *GrantSet) PageSet() Set {
	if g == nil {
		return Set{}
	}
	return NewSet(g.Pages...)
}

// FeatureSet returns the stored features as a set. Safe on a nil receiver.
func (g *GrantSet) FeatureSet() Set {
	if g == nil {
		return Set{}
	}
	return NewSet(g.Features...)
}

// Normalized returns a copy with duplicates removed and ids sorted.
// Pages and Features are never nil in the result.
func (g *GrantSet) Normalized() GrantSet {
	return GrantSet{
		Pages:    g.PageSet().Slice(),
		Features: g.FeatureSet().Slice(),
	}
}

// Empty returns a grant set with no pages and no features
func Empty() GrantSet {
	return GrantSet{Pages: []string{}, Features: []string{}}
}

// Access is the evaluated view of one identity's grants
type Access struct {
	SystemAdmin bool `json:"system_admin"`
	Pages       Set  `json:"-"`
	Features    Set  `json:"-"`
}

// CanAccessPage reports whether the page is in the enabled set
func (a Access) CanAccessPage(pageID string) bool {
	return HasPageAccess(pageID, a.Pages)
}

// CanUseFeature reports whether the feature is granted
func (a Access) CanUseFeature(featureID string) bool {
	return a.SystemAdmin || a.Features.Has(featureID)
}
