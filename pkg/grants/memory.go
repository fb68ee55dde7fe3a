package grants

import (
	"context"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

// MemoryStore keeps grant documents in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]access.GrantSet
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]access.GrantSet)}
}

// Get returns a copy of the stored document
func (s *MemoryStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	key, err := normalizeKey(email)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.docs[key]
	if !ok {
		return nil, nil
	}
	return clone(&g), nil
}

// Set replaces the document for email
func (s *MemoryStore) Set(ctx context.Context, email string, grants access.GrantSet) error {
	key, err := normalizeKey(email)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = grants.Normalized()
	return nil
}

// Count returns the number of stored documents
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}
