package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migration is a named, idempotent schema step.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate applies migrations not yet recorded in schema_migrations, each in
// its own transaction. It returns the versions applied.
func (db *DB) Migrate(ctx context.Context, migrations []Migration) ([]int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var ran []int
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}

		err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
			for i, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s) statement %d: %w", m.Version, m.Name, i+1, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name)
			return err
		})
		if err != nil {
			return ran, err
		}

		db.logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
		ran = append(ran, m.Version)
	}

	return ran, nil
}

// MigrationStatus reports the recorded version of every migration, or false when pending.
func (db *DB) MigrationStatus(ctx context.Context, migrations []Migration) (map[int]bool, error) {
	status := make(map[int]bool, len(migrations))
	for _, m := range migrations {
		status[m.Version] = false
	}

	var exists bool
	if err := db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_migrations')"); err != nil {
		return nil, err
	}
	if !exists {
		return status, nil
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, "SELECT version FROM schema_migrations"); err != nil {
		return nil, err
	}
	for _, v := range applied {
		status[v] = true
	}
	return status, nil
}
