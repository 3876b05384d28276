package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change owned by a component
type Migration struct {
	Version     int
	Description string
	SQL         string
}

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		component VARCHAR(64) NOT NULL,
		version INTEGER NOT NULL,
		description TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (component, version)
	)
`

// Migrate applies every migration of component that has not been recorded
// in schema_migrations yet. Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, component string, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db, component)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		err := InTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)",
				component, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s) failed: %w", component, m.Version, m.Description, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, component string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE component = $1", component)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
