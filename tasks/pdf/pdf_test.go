package pdf

import (
	"context"
	"testing"

	"github.com/flowforge/dagflow"
)

func TestMissingPathReturnsError(t *testing.T) {
	task := New("pdf")
	engine, err := dagflow.NewBuilder().AddTask(task).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	result, err := engine.Execute(context.Background(), map[string]any{})
	if err == nil {
		t.Fatalf("expected error for missing path input, got success: %+v", result)
	}
}
