package identity

import (
	"context"
	"sort"
	"sync"
)

// ProfileStore persists identity records keyed by normalized email
type ProfileStore interface {
	// Get returns ErrProfileNotFound when no profile exists
	Get(ctx context.Context, email string) (*Identity, error)
	// Put creates or replaces a profile
	Put(ctx context.Context, id Identity) error
	// Create stores id only when no profile exists for its email. created
	// is false when one already did; the stored profile is left untouched.
	Create(ctx context.Context, id Identity) (created bool, err error)
	// List returns every profile that has not been removed
	List(ctx context.Context) ([]Identity, error)
	// ListPending returns unapproved signups awaiting an administrator
	ListPending(ctx context.Context) ([]Identity, error)
}

// MemoryProfileStore is an in-process ProfileStore
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Identity
}

// NewMemoryProfileStore creates an empty store
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]Identity)}
}

// Get returns a copy of the stored profile
func (s *MemoryProfileStore) Get(ctx context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[NormalizeEmail(email)]
	if !ok {
		return nil, ErrProfileNotFound
	}
	out := p.Clone()
	return &out, nil
}

// Put stores a copy of id under its normalized email
func (s *MemoryProfileStore) Put(ctx context.Context, id Identity) error {
	email, err := ParseEmail(id.Email)
	if err != nil {
		return err
	}
	id = id.Clone()
	id.Email = email

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[email] = id
	return nil
}

// Create stores a copy of id unless its email is already taken
func (s *MemoryProfileStore) Create(ctx context.Context, id Identity) (bool, error) {
	email, err := ParseEmail(id.Email)
	if err != nil {
		return false, err
	}
	id = id.Clone()
	id.Email = email

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[email]; ok {
		return false, nil
	}
	s.profiles[email] = id
	return true, nil
}

// List returns every non-removed profile sorted by email
func (s *MemoryProfileStore) List(ctx context.Context) ([]Identity, error) {
	return s.filter(func(i Identity) bool { return !i.IsRemoved() }), nil
}

// ListPending returns unapproved, non-removed profiles sorted by email
func (s *MemoryProfileStore) ListPending(ctx context.Context) ([]Identity, error) {
	return s.filter(Identity.IsPending), nil
}

func (s *MemoryProfileStore) filter(keep func(Identity) bool) []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Identity, 0, len(s.profiles))
	for _, p := range s.profiles {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}
