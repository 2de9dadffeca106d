package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/flowforge/dagflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s := New(path)
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestRecordRunPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := dagflow.RunRecord{
		RunID:      "run-1",
		Success:    true,
		StartedAt:  1000,
		DurationMs: 42,
		Tasks: []dagflow.TaskExecutionResult{
			{TaskName: "fetch", Status: dagflow.StatusCompleted, Output: map[string]any{"url": "x"}, DurationMs: 10, TimestampMs: 1000},
			{TaskName: "parse", Status: dagflow.StatusCompleted, Output: map[string]any{"count": float64(3)}, DurationMs: 20, TimestampMs: 1010},
		},
	}
	if err := s.RecordRun(ctx, record); err != nil {
		t.Fatalf("record run: %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, "run-1").Scan(&count); err != nil {
		t.Fatalf("query runs: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 run row, got %d", count)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_results WHERE run_id = ?`, "run-1").Scan(&count); err != nil {
		t.Fatalf("query task_results: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 task result rows, got %d", count)
	}
}

func TestRecordRunFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := dagflow.RunRecord{
		RunID:     "run-2",
		Success:   false,
		ErrorText: "task x failed: boom",
		Tasks: []dagflow.TaskExecutionResult{
			{TaskName: "x", Status: dagflow.StatusFailed, ErrorMessage: "boom", TimestampMs: 5},
		},
	}
	if err := s.RecordRun(ctx, record); err != nil {
		t.Fatalf("record run: %v", err)
	}

	var success int
	var errText string
	if err := s.db.QueryRowContext(ctx, `SELECT success, error_text FROM runs WHERE run_id = ?`, "run-2").Scan(&success, &errText); err != nil {
		t.Fatalf("query: %v", err)
	}
	if success != 0 {
		t.Errorf("expected success=0, got %d", success)
	}
	if errText != "boom" && errText != "task x failed: boom" {
		t.Errorf("unexpected error_text: %q", errText)
	}
}

func TestRecordRunOverwritesPriorTaskResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := dagflow.RunRecord{RunID: "run-3", Success: true, Tasks: []dagflow.TaskExecutionResult{
		{TaskName: "a", Status: dagflow.StatusCompleted},
		{TaskName: "b", Status: dagflow.StatusCompleted},
	}}
	if err := s.RecordRun(ctx, base); err != nil {
		t.Fatalf("record run: %v", err)
	}

	replay := dagflow.RunRecord{RunID: "run-3", Success: true, Tasks: []dagflow.TaskExecutionResult{
		{TaskName: "a", Status: dagflow.StatusCompleted},
	}}
	if err := s.RecordRun(ctx, replay); err != nil {
		t.Fatalf("re-record run: %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_results WHERE run_id = ?`, "run-3").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected stale task rows cleared, got %d rows", count)
	}
}
