package dagflow

import "context"

// ChunkKind discriminates a StreamChunk's role in the event-mode stream.
type ChunkKind string

const (
	// ChunkProgress reports a percentage-complete update, either for a single
	// task (event-streaming tasks report their own internal progress, if
	// any) or for the workflow as a whole (TaskName == "workflow").
	ChunkProgress ChunkKind = "progress"
	// ChunkData carries an intermediate value pushed by an event-streaming
	// task via its yield callback.
	ChunkData ChunkKind = "data"
	// ChunkError reports a task's terminal failure (after retries exhaust).
	ChunkError ChunkKind = "error"
	// ChunkComplete reports a task's (or, with TaskName == "workflow", the
	// run's) terminal success.
	ChunkComplete ChunkKind = "complete"
)

// StreamChunk is one unit of the event-mode stream.
type StreamChunk struct {
	Kind        ChunkKind
	TaskName    string
	Content     string
	Progress    int
	TimestampMs int64
	Metadata    map[string]any
}

// emitFunc is how the Level Executor reports a StreamChunk to whatever
// consumer is driving a streaming-mode run. nil means "not streaming".
type emitFunc func(StreamChunk)

const streamChunkBuffer = 64

// EventStream is returned by a StreamingEngine's ExecuteStream call. It
// pairs a single-shot channel of StreamChunk values with a Result future, so
// a caller can consume chunks as they arrive and await the final
// WorkflowResult independently of its drain pace. A caller that ignores the
// stream entirely must cancel ctx once the buffer could fill, or the run
// blocks (see Chan) — generalizing this codebase's
// channel-based ExecuteStream(ctx, task, ch chan<- StreamEvent) convention
// with a result-future so querying the outcome doesn't depend on the
// consumer's drain pace.
type EventStream struct {
	ch     chan StreamChunk
	done   chan struct{}
	result WorkflowResult
	err    error
}

// Chan returns the stream's chunk channel. It is closed once the run
// completes, after the terminal ChunkComplete (or error) chunk for the
// workflow as a whole has been sent. Ranging over it is the normal way to
// consume an EventStream. The channel buffers streamChunkBuffer chunks; once
// it is full, the run blocks on each send until the consumer reads again or
// ctx is canceled, and after cancellation unsent chunks are dropped.
func (s *EventStream) Chan() <-chan StreamChunk { return s.ch }

// Result blocks until the run completes and returns its final
// WorkflowResult. It does not consume from Chan(), so the run reaches
// completion only if Chan() is drained, the run produces no more chunks
// than the buffer holds, or ctx is canceled.
func (s *EventStream) Result() (WorkflowResult, error) {
	<-s.done
	return s.result, s.err
}

// observedEngine is implemented by staticEngine and strategyEngine.
type observedEngine interface {
	executeObserved(ctx context.Context, input map[string]any, emit emitFunc) (WorkflowResult, error)
}

// StreamingEngine adapts an Engine into the event-mode streaming contract.
// Built by Builder.BuildStreaming.
type StreamingEngine struct {
	inner observedEngine
}

// ExecuteStream starts a run and returns immediately with an EventStream;
// the run itself proceeds on a background goroutine, pushing StreamChunk
// values as tasks start, complete, fail, or (for event-streaming tasks)
// yield intermediate data.
func (e *StreamingEngine) ExecuteStream(ctx context.Context, input map[string]any) *EventStream {
	s := &EventStream{
		ch:   make(chan StreamChunk, streamChunkBuffer),
		done: make(chan struct{}),
	}

	send := func(c StreamChunk) {
		select {
		case s.ch <- c:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(s.ch)
		defer close(s.done)

		send(StreamChunk{Kind: ChunkProgress, TaskName: "workflow", Progress: 0, TimestampMs: nowMillis()})

		result, err := e.inner.executeObserved(ctx, input, send)

		s.result = result
		s.err = err
		if err != nil {
			send(StreamChunk{Kind: ChunkError, TaskName: "workflow", Content: err.Error(), TimestampMs: nowMillis()})
			send(StreamChunk{Kind: ChunkComplete, TaskName: "workflow", Progress: partialProgress(result), TimestampMs: nowMillis()})
			return
		}
		send(StreamChunk{Kind: ChunkComplete, TaskName: "workflow", Progress: 100, TimestampMs: nowMillis()})
	}()

	return s
}

// partialProgress reports the percentage of a failed run's tasks that
// reached completed, for the terminal ChunkComplete a failing run still
// owes its streaming consumers alongside the ChunkError.
func partialProgress(result WorkflowResult) int {
	total := len(result.TaskResults)
	if total == 0 {
		return 0
	}
	completed := 0
	for _, tr := range result.TaskResults {
		if tr.Status == StatusCompleted {
			completed++
		}
	}
	return int(float64(completed) / float64(total) * 100.0)
}
