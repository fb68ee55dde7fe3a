// Package schema owns the SQL schema shared by the grant store, the profile
// store and the audit log. Statements are written to run unchanged on
// PostgreSQL and SQLite.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all migrations in version order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create user_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_grants (
					email VARCHAR(320) PRIMARY KEY,
					pages TEXT NOT NULL DEFAULT '[]',
					features TEXT NOT NULL DEFAULT '[]',
					updated_at TIMESTAMP NOT NULL,
					updated_by VARCHAR(320) NOT NULL DEFAULT ''
				)
			`,
		},
		{
			Version:     2,
			Description: "Create user_profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_profiles (
					email VARCHAR(320) PRIMARY KEY,
					display_name VARCHAR(255) NOT NULL DEFAULT '',
					role VARCHAR(64) NOT NULL,
					roles TEXT NOT NULL DEFAULT '[]',
					department VARCHAR(255) NOT NULL DEFAULT '',
					is_approved BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					removed_at TIMESTAMP
				)
			`,
		},
		{
			Version:     3,
			Description: "Index pending profiles",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_user_profiles_pending ON user_profiles (is_approved, removed_at)`,
		},
		{
			Version:     4,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id VARCHAR(36) PRIMARY KEY,
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					actor VARCHAR(320) NOT NULL DEFAULT '',
					target VARCHAR(320) NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					metadata TEXT NOT NULL DEFAULT '{}',
					request_id VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)
			`,
		},
		{
			Version:     5,
			Description: "Index audit_events by target",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_audit_events_target ON audit_events (target, created_at)`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gatehouse_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM gatehouse_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO gatehouse_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
