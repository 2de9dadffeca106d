//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/flowforge/dagflow"
)

// testPool is a shared connection pool created once in TestMain and reused
// across all integration test functions.
var testPool *pgxpool.Pool

// TestMain spins up a PostgreSQL container via testcontainers-go, creates
// the schema, and tears everything down after all tests complete.
func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dagflow_test"),
		postgres.WithUsername("dagflow"),
		postgres.WithPassword("dagflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("postgres: failed to start container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres: failed to get connection string: %v", err)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("postgres: failed to create pool: %v", err)
	}

	schemaStore := New(testPool)
	if err := schemaStore.Init(ctx); err != nil {
		log.Fatalf("postgres: failed to create schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Printf("postgres: failed to terminate container: %v", err)
	}

	os.Exit(code)
}

func TestStore_RecordRunPersists(t *testing.T) {
	ctx := context.Background()
	s := New(testPool)

	record := dagflow.RunRecord{
		RunID:      "pg-run-1",
		Success:    true,
		StartedAt:  1000,
		DurationMs: 15,
		Tasks: []dagflow.TaskExecutionResult{
			{TaskName: "fetch", Status: dagflow.StatusCompleted, Output: map[string]any{"url": "x"}, DurationMs: 5, TimestampMs: 1000},
		},
	}
	if err := s.RecordRun(ctx, record); err != nil {
		t.Fatalf("record run: %v", err)
	}

	var count int
	if err := testPool.QueryRow(ctx, `SELECT COUNT(*) FROM task_results WHERE run_id = $1`, "pg-run-1").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 task result row, got %d", count)
	}
}

func TestStore_RecordRunUpsertsAndReplacesTasks(t *testing.T) {
	ctx := context.Background()
	s := New(testPool)

	base := dagflow.RunRecord{RunID: "pg-run-2", Success: true, Tasks: []dagflow.TaskExecutionResult{
		{TaskName: "a", Status: dagflow.StatusCompleted},
		{TaskName: "b", Status: dagflow.StatusCompleted},
	}}
	if err := s.RecordRun(ctx, base); err != nil {
		t.Fatalf("record run: %v", err)
	}

	replay := dagflow.RunRecord{RunID: "pg-run-2", Success: false, ErrorText: "retry failed", Tasks: []dagflow.TaskExecutionResult{
		{TaskName: "a", Status: dagflow.StatusCompleted},
	}}
	if err := s.RecordRun(ctx, replay); err != nil {
		t.Fatalf("re-record run: %v", err)
	}

	var count int
	if err := testPool.QueryRow(ctx, `SELECT COUNT(*) FROM task_results WHERE run_id = $1`, "pg-run-2").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected stale task rows replaced, got %d rows", count)
	}

	var success bool
	if err := testPool.QueryRow(ctx, `SELECT success FROM runs WHERE run_id = $1`, "pg-run-2").Scan(&success); err != nil {
		t.Fatalf("query: %v", err)
	}
	if success {
		t.Error("expected success=false after upsert")
	}
}
