package report

import (
	"errors"
	"strings"
	"testing"

	"github.com/flowforge/dagflow"
)

func TestRenderSuccess(t *testing.T) {
	result := dagflow.WorkflowResult{
		RunID:           "run-1",
		Success:         true,
		ExecutionTimeMs: 120,
		TotalSteps:      2,
		TaskResults: map[string]dagflow.TaskExecutionResult{
			"fetch": {Status: dagflow.StatusCompleted, DurationMs: 50},
			"parse": {Status: dagflow.StatusCompleted, DurationMs: 70},
		},
	}

	html, err := Render(result)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "run-1") {
		t.Errorf("expected run ID in output, got: %s", html)
	}
	if !strings.Contains(html, "<table>") {
		t.Errorf("expected a rendered table, got: %s", html)
	}
}

func TestRenderFailure(t *testing.T) {
	result := dagflow.WorkflowResult{
		RunID:   "run-2",
		Success: false,
		Error:   errors.New("task x failed"),
		TaskResults: map[string]dagflow.TaskExecutionResult{
			"x": {Status: dagflow.StatusFailed, ErrorMessage: "boom"},
		},
	}

	html, err := Render(result)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "task x failed") {
		t.Errorf("expected error text in output, got: %s", html)
	}
	if !strings.Contains(html, "boom") {
		t.Errorf("expected per-task error in output, got: %s", html)
	}
}
