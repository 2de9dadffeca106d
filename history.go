package dagflow

import (
	"context"
	"fmt"
)

// RunRecord is one persisted run: its terminal outcome plus the full
// per-task history that produced it. HistorySink implementations store
// RunRecords for later audit; nothing in this package reads them back for
// resume or replay purposes.
type RunRecord struct {
	RunID      string
	Success    bool
	ErrorText  string
	StartedAt  int64
	DurationMs int64
	Tasks      []TaskExecutionResult
}

// HistorySink persists completed runs for audit. It is write-only by
// design: dagflow never resumes or replays a run from sink contents, so
// implementations need not support point-in-time reconstruction, only
// durable append.
//
// Callers typically drive a HistorySink from outside the engine, e.g. via
// a Builder-registered OnContextChange/OnTaskComplete hook, or by calling
// RecordRun directly after Execute returns.
type HistorySink interface {
	// RecordRun persists one run's terminal result and task history.
	RecordRun(ctx context.Context, record RunRecord) error

	// Close releases any resources (connections, file handles) held by the
	// sink.
	Close() error
}

// RunRecordFrom builds a RunRecord from a WorkflowResult, for callers that
// want to persist a run without hand-assembling the fields. Tasks come from
// result.TaskResults (so ordering reflects map iteration, not execution
// order); callers that need ordered history should build a RunRecord
// directly from a Context's History() instead.
func RunRecordFrom(result WorkflowResult) RunRecord {
	rec := RunRecord{
		RunID:      result.RunID,
		Success:    result.Success,
		DurationMs: result.ExecutionTimeMs,
		Tasks:      make([]TaskExecutionResult, 0, len(result.TaskResults)),
	}
	if result.Error != nil {
		rec.ErrorText = result.Error.Error()
	}
	var earliest int64
	for _, tr := range result.TaskResults {
		rec.Tasks = append(rec.Tasks, tr)
		if earliest == 0 || tr.TimestampMs < earliest {
			earliest = tr.TimestampMs
		}
	}
	rec.StartedAt = earliest
	return rec
}

// ExecuteWithHistory runs engine.Execute and, regardless of outcome,
// persists the resulting RunRecord to sink before returning. The run's own
// error (if any) is returned to the caller; a RecordRun failure is joined
// alongside it rather than silently swallowed.
func ExecuteWithHistory(ctx context.Context, engine Engine, sink HistorySink, input map[string]any) (WorkflowResult, error) {
	result, runErr := engine.Execute(ctx, input)
	if sink != nil {
		if err := sink.RecordRun(ctx, RunRecordFrom(result)); err != nil {
			if runErr != nil {
				return result, fmt.Errorf("%w (history record also failed: %v)", runErr, err)
			}
			return result, fmt.Errorf("record history: %w", err)
		}
	}
	return result, runErr
}
