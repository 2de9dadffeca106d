// Package sqlite implements dagflow.HistorySink using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowforge/dagflow"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements dagflow.HistorySink backed by a local SQLite file.
// It is write-only: runs go in via RecordRun, nothing in this package reads
// them back for resume or replay.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ dagflow.HistorySink = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the run and task_result tables if they don't exist.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	tables := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			success INTEGER NOT NULL,
			error_text TEXT,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_results (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			task_name TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT,
			error_message TEXT,
			duration_ms INTEGER NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results (run_id)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	s.logger.Debug("sqlite: init finished", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// RecordRun persists one run's terminal result and task history inside a
// single transaction: either the whole run lands or none of it does.
func (s *Store) RecordRun(ctx context.Context, record dagflow.RunRecord) error {
	start := time.Now()
	s.logger.Debug("sqlite: record run", "run_id", record.RunID, "success", record.Success, "tasks", len(record.Tasks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, success, error_text, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		record.RunID, boolToInt(record.Success), record.ErrorText, record.StartedAt, record.DurationMs,
	)
	if err != nil {
		s.logger.Error("sqlite: insert run failed", "run_id", record.RunID, "error", err)
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_results WHERE run_id = ?`, record.RunID); err != nil {
		return fmt.Errorf("clear prior task results: %w", err)
	}

	for seq, tr := range record.Tasks {
		var outJSON *string
		if tr.Output != nil {
			data, err := json.Marshal(tr.Output)
			if err != nil {
				s.logger.Error("sqlite: marshal task output failed", "task", tr.TaskName, "error", err)
				continue
			}
			v := string(data)
			outJSON = &v
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO task_results (run_id, seq, task_name, status, output, error_message, duration_ms, timestamp_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.RunID, seq, tr.TaskName, string(tr.Status), outJSON, tr.ErrorMessage, tr.DurationMs, tr.TimestampMs,
		)
		if err != nil {
			s.logger.Error("sqlite: insert task result failed", "run_id", record.RunID, "task", tr.TaskName, "error", err)
			return fmt.Errorf("insert task result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("sqlite: record run finished", "run_id", record.RunID, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
