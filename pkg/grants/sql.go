package grants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

// SQLStore keeps grant documents in the user_grants table. Pages and
// features are stored as JSON text so the same schema works on Postgres
// and SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over db. The schema is created by
// schema.RunMigrations.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Get retrieves the document for email
func (s *SQLStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	key, err := normalizeKey(email)
	if err != nil {
		return nil, err
	}

	query := `SELECT pages, features FROM user_grants WHERE email = $1`

	var pagesJSON, featuresJSON string
	err = s.db.QueryRowContext(ctx, query, key).Scan(&pagesJSON, &featuresJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grants: %w", err)
	}

	var g access.GrantSet
	if err := json.Unmarshal([]byte(pagesJSON), &g.Pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pages: %w", err)
	}
	if err := json.Unmarshal([]byte(featuresJSON), &g.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	return clone(&g), nil
}

// Set upserts the document for email
func (s *SQLStore) Set(ctx context.Context, email string, grants access.GrantSet) error {
	key, err := normalizeKey(email)
	if err != nil {
		return err
	}

	n := grants.Normalized()
	pagesJSON, err := json.Marshal(n.Pages)
	if err != nil {
		return fmt.Errorf("failed to marshal pages: %w", err)
	}
	featuresJSON, err := json.Marshal(n.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO user_grants (email, pages, features, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			pages = excluded.pages,
			features = excluded.features,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by
	`

	_, err = s.db.ExecContext(ctx, query,
		key,
		string(pagesJSON),
		string(featuresJSON),
		time.Now().UTC(),
		ActorFromContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to set grants: %w", err)
	}
	return nil
}

// Count returns the number of stored documents
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_grants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return n, nil
}
