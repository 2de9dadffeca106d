package dagflow

import (
	"context"
	"fmt"
)

// ExecuteFunc is the body of a plain Task: given a context snapshot, it
// produces an output map or an error.
type ExecuteFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// OnErrorFunc is invoked once per failed attempt of a Task, before a retry
// or before the task is marked failed.
type OnErrorFunc func(ctx context.Context, attempt int, err error)

// BranchCondition is a predicate over the context snapshot, evaluated in
// declaration order by the Branch Resolver.
type BranchCondition func(ctx context.Context, snapshot map[string]any) bool

// Branch pairs a predicate with the successor tasks taken when it fires.
type Branch struct {
	Predicate BranchCondition
	Successors []*Task
}

// StreamFunc is the body of an event-streaming Task (see NewStreamingTask):
// it pushes StreamChunk values to yield and returns the final output map.
type StreamFunc func(ctx context.Context, input map[string]any, yield func(StreamChunk) bool) (map[string]any, error)

// LLMStreamHandles are the three co-produced handles an LLM-streaming Task
// returns from its LLMStreamFunc: a lazy text sequence, a lazy structured
// event sequence, and a channel carrying the final output. A task supplies
// no HTTP-response or byte-stream constructor of its own; those exist only
// on the run-level LLMStream (ToHTTPResponse, ToByteStream).
type LLMStreamHandles struct {
	// Text yields incremental text tokens. Closed when the underlying call
	// completes.
	Text <-chan string
	// Events yields structured events co-produced alongside Text.
	Events <-chan LLMEvent
	// Done resolves with the task's final output map once the call
	// completes (after Text and Events are both drained/closed).
	Done <-chan TaskDoneSignal
}

// TaskDoneSignal is the terminal payload an LLM-streaming Task sends on its
// Done channel once its Text and Events streams have been fully produced.
type TaskDoneSignal struct {
	Output map[string]any
	Err    error
}

// LLMStreamFunc is the body of an LLM-streaming Task.
type LLMStreamFunc func(ctx context.Context, input map[string]any) (LLMStreamHandles, error)

// taskKind discriminates a Task's execution variant. Modeled as a sum type
// with a discriminator rather than an inheritance chain.
type taskKind int

const (
	kindPlain taskKind = iota
	kindEventStream
	kindLLMStream
)

// Task is a named unit of work with optional dependencies, branches, a
// default successor set, a retry bound, and an on-error hook. Tasks are
// created outside the engine and handed in by reference: two Task values
// with the same Name are two distinct nodes, and the engine disambiguates
// their taskResults keys on collision.
type Task struct {
	name string
	kind taskKind

	exec       ExecuteFunc
	streamExec StreamFunc
	llmExec    LLMStreamFunc

	dependsOn []*Task
	branches  []Branch
	defaultTo []*Task

	retryCount int
	onError    OnErrorFunc
}

// Name returns the task's declared name. Not guaranteed unique within a run;
// see the package documentation on collision disambiguation.
func (t *Task) Name() string { return t.name }

// TaskOption configures a Task at construction time.
type TaskOption func(*Task)

// DependsOn declares direct predecessors. Order does not matter; duplicates
// are harmless (indegree counts distinct references once per declaration
// site, and a dependency listed twice in one DependsOn call is deduped).
func DependsOn(preds ...*Task) TaskOption {
	return func(t *Task) {
		seen := make(map[*Task]bool, len(preds))
		for _, p := range preds {
			if p == nil || seen[p] {
				continue
			}
			seen[p] = true
			t.dependsOn = append(t.dependsOn, p)
		}
	}
}

// WithBranches declares an ordered list of conditional successor sets,
// evaluated in order by the Branch Resolver after this task completes.
func WithBranches(branches ...Branch) TaskOption {
	return func(t *Task) { t.branches = append(t.branches, branches...) }
}

// WithDefaultSuccessors declares the successor set taken when no branch
// predicate matches.
func WithDefaultSuccessors(successors ...*Task) TaskOption {
	return func(t *Task) { t.defaultTo = append(t.defaultTo, successors...) }
}

// WithRetry sets this task's retry bound (number of attempts, minimum 1).
// A value <= 0 leaves the task's bound unset, so the engine's configured
// RetryAttempts default applies; a task-level bound set here always wins
// over the engine default.
func WithRetry(n int) TaskOption {
	return func(t *Task) { t.retryCount = n }
}

// WithOnError sets the hook invoked once per failed attempt.
func WithOnError(fn OnErrorFunc) TaskOption {
	return func(t *Task) { t.onError = fn }
}

// NewTask constructs a plain Task.
func NewTask(name string, exec ExecuteFunc, opts ...TaskOption) *Task {
	t := &Task{name: name, kind: kindPlain, exec: exec}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewStreamingTask constructs an event-streaming Task: its StreamFunc yields
// StreamChunk values as it runs and returns the final output map on
// completion.
func NewStreamingTask(name string, exec StreamFunc, opts ...TaskOption) *Task {
	t := &Task{name: name, kind: kindEventStream, streamExec: exec}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewLLMStreamingTask constructs an LLM-streaming Task: its LLMStreamFunc
// returns paired text/event channels.
func NewLLMStreamingTask(name string, exec LLMStreamFunc, opts ...TaskOption) *Task {
	t := &Task{name: name, kind: kindLLMStream, llmExec: exec}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// run dispatches to the task's declared variant, normalizing all three into
// a single (output, error) result for the Level Executor. For streaming
// tasks it drains the stream internally, discarding chunks — the Streaming
// Adapters (stream.go, streamllm.go) call the variant-specific path
// directly instead when a live stream is wanted.
func (t *Task) run(ctx context.Context, input map[string]any) (map[string]any, error) {
	switch t.kind {
	case kindEventStream:
		return t.streamExec(ctx, input, func(StreamChunk) bool { return true })
	case kindLLMStream:
		handles, err := t.llmExec(ctx, input)
		if err != nil {
			return nil, err
		}
		for range handles.Text {
		}
		for range handles.Events {
		}
		done := <-handles.Done
		return done.Output, done.Err
	default:
		return t.exec(ctx, input)
	}
}

// runObservedLLM behaves like run but, for an LLM-streaming task, forwards
// incremental text tokens to forwardText and structured events to
// forwardEvent as they arrive, instead of draining and discarding them.
// Non-LLM-streaming tasks behave exactly as run.
func (t *Task) runObservedLLM(ctx context.Context, input map[string]any, forwardText func(string), forwardEvent func(LLMEvent)) (map[string]any, error) {
	if t.kind != kindLLMStream {
		output, err := t.run(ctx, input)
		if err == nil && forwardText != nil {
			forwardText(fmt.Sprintf("[%s] Task completed\n", t.name))
		}
		return output, err
	}
	handles, err := t.llmExec(ctx, input)
	if err != nil {
		return nil, err
	}

	textCh, eventsCh := handles.Text, handles.Events
	for textCh != nil || eventsCh != nil {
		select {
		case s, ok := <-textCh:
			if !ok {
				textCh = nil
				continue
			}
			if forwardText != nil {
				forwardText(s)
			}
		case ev, ok := <-eventsCh:
			if !ok {
				eventsCh = nil
				continue
			}
			if forwardEvent != nil {
				forwardEvent(ev)
			}
		}
	}
	done := <-handles.Done
	return done.Output, done.Err
}

// runObserved behaves like run but, for an event-streaming task, forwards
// each yielded StreamChunk to forward before the task's own output is
// returned. Used by the event-mode Streaming Adapter (stream.go) so
// intermediate chunks reach the caller's stream instead of being discarded.
// Non-event-streaming tasks behave exactly as run (opaque until completion).
func (t *Task) runObserved(ctx context.Context, input map[string]any, forward func(StreamChunk)) (map[string]any, error) {
	if t.kind != kindEventStream || forward == nil {
		return t.run(ctx, input)
	}
	return t.streamExec(ctx, input, func(c StreamChunk) bool {
		forward(c)
		return ctx.Err() == nil
	})
}

// effectiveRetryCount returns the attempts bound to use: the task's own
// bound if set (> 0), else the engine-configured default.
func (t *Task) effectiveRetryCount(configDefault int) int {
	if t.retryCount > 0 {
		return t.retryCount
	}
	if configDefault > 0 {
		return configDefault
	}
	return 1
}
