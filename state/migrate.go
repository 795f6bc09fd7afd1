package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/izavyalov-dev/delta-qa/state/migrations"
)

// migrationLockKey serializes concurrent migrators (several serve replicas
// starting at once) through a transaction-scoped advisory lock.
const migrationLockKey = 0x64716d69

// ApplyMigrations applies every pending migration in one transaction and
// returns the IDs it applied.
func (s *Store) ApplyMigrations(ctx context.Context) ([]string, error) {
	all, err := migrations.Load()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	var applied []string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		done, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}
		for _, migration := range all {
			if _, ok := done[migration.ID]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, migration.Script); err != nil {
				return fmt.Errorf("apply migration %s: %w", migration.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, NOW())`, migration.ID); err != nil {
				return fmt.Errorf("record migration %s: %w", migration.ID, err)
			}
			applied = append(applied, migration.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// PendingMigrations lists migrations not yet recorded in schema_migrations.
func (s *Store) PendingMigrations(ctx context.Context) ([]string, error) {
	all, err := migrations.Load()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	var pending []string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		done, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}
		for _, migration := range all {
			if _, ok := done[migration.ID]; !ok {
				pending = append(pending, migration.ID)
			}
		}
		return nil
	})
	return pending, err
}

func appliedMigrations(ctx context.Context, tx *sql.Tx) (map[string]struct{}, error) {
	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		done[id] = struct{}{}
	}
	return done, rows.Err()
}
