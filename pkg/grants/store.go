package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// ErrInvalidEmail is returned when a store key is not a usable email
var ErrInvalidEmail = errors.New("grants: invalid email")

// Store is the Permission Store: one grant document per normalized email.
type Store interface {
	// Get returns (nil, nil) when no document exists for email. A missing
	// document is an expected state, not an error.
	Get(ctx context.Context, email string) (*access.GrantSet, error)
	// Set replaces the whole document for email. Last write wins.
	Set(ctx context.Context, email string, grants access.GrantSet) error
}

// Counter is implemented by stores that can count their documents
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Count returns the number of documents in s, or an error when s cannot count
func Count(ctx context.Context, s Store) (int, error) {
	c, ok := s.(Counter)
	if !ok {
		return 0, fmt.Errorf("grants: %T does not support counting", s)
	}
	return c.Count(ctx)
}

func normalizeKey(email string) (string, error) {
	key, err := identity.ParseEmail(email)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return key, nil
}

func encode(g access.GrantSet) ([]byte, error) {
	data, err := json.Marshal(g.Normalized())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grants: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*access.GrantSet, error) {
	var g access.GrantSet
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grants: %w", err)
	}
	n := g.Normalized()
	return &n, nil
}

func clone(g *access.GrantSet) *access.GrantSet {
	if g == nil {
		return nil
	}
	n := g.Normalized()
	return &n
}

type actorKey struct{}

// WithActor records who is performing a write, for stores that keep it
func WithActor(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, actorKey{}, identity.NormalizeEmail(email))
}

// ActorFromContext returns the email set by WithActor, or ""
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
