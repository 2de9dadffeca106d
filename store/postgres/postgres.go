// Package postgres implements dagflow.HistorySink using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowforge/dagflow"
)

// Store implements dagflow.HistorySink backed by PostgreSQL. It is
// write-only: runs go in via RecordRun, nothing in this package reads them
// back for resume or replay.
type Store struct {
	pool *pgxpool.Pool
}

var _ dagflow.HistorySink = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the runs and task_results tables and indexes. Safe to call
// multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			success BOOLEAN NOT NULL,
			error_text TEXT,
			started_at BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_results (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			task_name TEXT NOT NULL,
			status TEXT NOT NULL,
			output JSONB,
			error_message TEXT,
			duration_ms BIGINT NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results (run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}
	return nil
}

// RecordRun persists one run's terminal result and task history inside a
// single transaction: either the whole run lands or none of it does.
// Re-recording a run (e.g. the same RunID retried) upserts its runs row and
// explicitly deletes its prior task rows before inserting the new ones.
func (s *Store) RecordRun(ctx context.Context, record dagflow.RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (run_id, success, error_text, started_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id) DO UPDATE SET
			success = EXCLUDED.success,
			error_text = EXCLUDED.error_text,
			started_at = EXCLUDED.started_at,
			duration_ms = EXCLUDED.duration_ms`,
		record.RunID, record.Success, record.ErrorText, record.StartedAt, record.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM task_results WHERE run_id = $1`, record.RunID); err != nil {
		return fmt.Errorf("clear prior task results: %w", err)
	}

	for seq, tr := range record.Tasks {
		var outJSON []byte
		if tr.Output != nil {
			outJSON, err = json.Marshal(tr.Output)
			if err != nil {
				continue
			}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO task_results (run_id, seq, task_name, status, output, error_message, duration_ms, timestamp_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			record.RunID, seq, tr.TaskName, string(tr.Status), outJSON, tr.ErrorMessage, tr.DurationMs, tr.TimestampMs,
		)
		if err != nil {
			return fmt.Errorf("insert task result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close is a no-op: the pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}
