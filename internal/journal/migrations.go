package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward-only schema step
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// ARCHITECTURAL DISCOVERY: Migrations are compiled in so a fresh journal file
// needs nothing else on disk
var migrations = []Migration{
	{
		Version:     "001",
		Description: "connection events",
		SQL: `
			CREATE TABLE IF NOT EXISTS connection_events (
				id TEXT PRIMARY KEY,
				session_code TEXT NOT NULL,
				client_session_id TEXT NOT NULL,
				connection_id INTEGER NOT NULL DEFAULT 0,
				kind TEXT NOT NULL,
				code INTEGER NOT NULL DEFAULT 0,
				detail TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_connection_events_created ON connection_events(created_at);
		`,
	},
	{
		Version:     "002",
		Description: "index events by session",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_connection_events_session ON connection_events(session_code, created_at);`,
	},
}

// applyMigrations runs every migration not yet recorded in schema_migrations,
// each in its own transaction.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := applyMigration(ctx, db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
