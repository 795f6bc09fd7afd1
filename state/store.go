// Package state persists webhook deliveries, analysis runs, reports and the
// durable analysis queue in Postgres.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested row cannot be located.
var ErrNotFound = errors.New("state: not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts a run in its initial state.
func (s *Store) CreateRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		return Run{}, errors.New("run id required")
	}
	if run.State == "" {
		run.State = RunStateFetching
	}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO analysis_runs (id, delivery_id, repository, pr_number, head_sha, state)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at
`, run.ID, run.DeliveryID, run.Repository, run.PRNumber, run.HeadSHA, run.State).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
SELECT id, delivery_id, repository, pr_number, head_sha, state, created_at, updated_at
FROM analysis_runs
WHERE id = $1
`, runID).Scan(&run.ID, &run.DeliveryID, &run.Repository, &run.PRNumber, &run.HeadSHA, &run.State, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return Run{}, err
	}
	return run, nil
}

// TransitionRunState enforces the run state machine using row-level locking.
func (s *Store) TransitionRunState(ctx context.Context, runID string, next RunState) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current RunState
		if err := tx.QueryRowContext(ctx, `SELECT state FROM analysis_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: run %s", ErrNotFound, runID)
			}
			return err
		}

		if err := ValidateRunTransition(runID, current, next); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `UPDATE analysis_runs SET state = $2, updated_at = NOW() WHERE id = $1`, runID, next)
		return err
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
