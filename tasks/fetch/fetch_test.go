package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flowforge/dagflow"
)

func TestFetchExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Hi</title></head><body><article><p>` +
			strings.Repeat("Hello world. ", 40) + `</p></article></body></html>`))
	}))
	defer srv.Close()

	task := New("fetch")

	var chunks []dagflow.StreamChunk
	ctx := context.Background()
	output, err := callStream(ctx, task, map[string]any{"url": srv.URL}, &chunks)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	text, _ := output["text"].(string)
	if !strings.Contains(text, "Hello world") {
		t.Errorf("expected extracted text to contain article body, got: %q", text)
	}
	if len(chunks) == 0 {
		t.Error("expected progress chunks to be emitted")
	}
}

func TestFetchMissingURL(t *testing.T) {
	task := New("fetch")
	var chunks []dagflow.StreamChunk
	_, err := callStream(context.Background(), task, map[string]any{}, &chunks)
	if err == nil {
		t.Fatal("expected error for missing url input")
	}
}

// callStream exercises the task's underlying streaming behavior through the
// only entry points this package exposes: dagflow.Task has no exported way
// to invoke StreamFunc directly, so these tests go through a tiny
// single-task streaming workflow instead, collecting every chunk it emits.
func callStream(ctx context.Context, task *dagflow.Task, input map[string]any, chunks *[]dagflow.StreamChunk) (map[string]any, error) {
	engine, err := dagflow.NewBuilder().AddTask(task).BuildStreaming()
	if err != nil {
		return nil, err
	}
	stream := engine.ExecuteStream(ctx, input)
	for c := range stream.Chan() {
		*chunks = append(*chunks, c)
	}
	result, err := stream.Result()
	if err != nil {
		return nil, err
	}
	for _, tr := range result.TaskResults {
		return tr.Output, nil
	}
	return nil, nil
}
