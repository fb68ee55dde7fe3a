package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLProfileStore stores profiles in the user_profiles table
type SQLProfileStore struct {
	db *sql.DB
}

// NewSQLProfileStore creates a profile store over db. The schema is created
// by schema.RunMigrations.
func NewSQLProfileStore(db *sql.DB) *SQLProfileStore {
	return &SQLProfileStore{db: db}
}

const profileColumns = `email, display_name, role, roles, department, is_approved, created_at, updated_at, removed_at`

// Get retrieves a profile by email
func (s *SQLProfileStore) Get(ctx context.Context, email string) (*Identity, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE email = $1`

	id, err := scanProfile(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return id, nil
}

// Put upserts a profile
func (s *SQLProfileStore) Put(ctx context.Context, id Identity) error {
	args, err := profileArgs(id)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO UPDATE SET
			display_name = excluded.display_name,
			role = excluded.role,
			roles = excluded.roles,
			department = excluded.department,
			is_approved = excluded.is_approved,
			updated_at = excluded.updated_at,
			removed_at = excluded.removed_at
	`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to put profile: %w", err)
	}
	return nil
}

// Create inserts a profile unless one exists for the email
func (s *SQLProfileStore) Create(ctx context.Context, id Identity) (bool, error) {
	args, err := profileArgs(id)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO user_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to create profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create profile: %w", err)
	}
	return n == 1, nil
}

func profileArgs(id Identity) ([]interface{}, error) {
	email, err := ParseEmail(id.Email)
	if err != nil {
		return nil, err
	}

	rolesJSON, err := json.Marshal(id.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roles: %w", err)
	}

	now := time.Now().UTC()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = now
	}

	var removedAt sql.NullTime
	if id.RemovedAt != nil {
		removedAt = sql.NullTime{Time: *id.RemovedAt, Valid: true}
	}

	return []interface{}{
		email,
		id.DisplayName,
		string(RoleOrDefault(id.Role)),
		string(rolesJSON),
		id.Department,
		id.IsApproved,
		id.CreatedAt,
		id.UpdatedAt,
		removedAt,
	}, nil
}

// List returns every non-removed profile
func (s *SQLProfileStore) List(ctx context.Context) ([]Identity, error) {
	return s.query(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE removed_at IS NULL ORDER BY email`)
}

// ListPending returns unapproved signups
func (s *SQLProfileStore) ListPending(ctx context.Context) ([]Identity, error) {
	return s.query(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE is_approved = FALSE AND removed_at IS NULL ORDER BY email`)
}

func (s *SQLProfileStore) query(ctx context.Context, query string) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		id, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, *id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*Identity, error) {
	var (
		id        Identity
		role      string
		rolesJSON string
		removedAt sql.NullTime
	)
	err := row.Scan(
		&id.Email,
		&id.DisplayName,
		&role,
		&rolesJSON,
		&id.Department,
		&id.IsApproved,
		&id.CreatedAt,
		&id.UpdatedAt,
		&removedAt,
	)
	if err != nil {
		return nil, err
	}

	id.Role = Role(role)
	if rolesJSON != "" && rolesJSON != "null" {
		if err := json.Unmarshal([]byte(rolesJSON), &id.Roles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
		}
	}
	if removedAt.Valid {
		t := removedAt.Time
		id.RemovedAt = &t
	}
	return &id, nil
}
