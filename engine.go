package dagflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Config holds the knobs recognized by the engine.
type Config struct {
	// RetryAttempts is the default max attempts applied when a task does not
	// specify its own retry bound (Task.WithRetry). A task-level bound
	// always overrides this default when set.
	RetryAttempts int
	// TimeoutMs is advisory: it is not enforced as a hard per-task deadline
	// by the core; callers that want a true deadline should derive ctx with
	// context.WithTimeout before calling Execute.
	TimeoutMs int
	// MaxDynamicSteps caps the strategy loop. Zero means the default of 50
	// applies.
	MaxDynamicSteps int
	// RetryBackoff enables exponential backoff with jitter between retry
	// attempts. Disabled by default.
	RetryBackoff bool
}

func (c Config) maxDynamicSteps() int {
	if c.MaxDynamicSteps > 0 {
		return c.MaxDynamicSteps
	}
	return 50
}

// Engine is the executable form produced by Builder.Build. A static engine
// is returned when no strategies were registered; otherwise a
// strategy-driven engine is returned.
type Engine interface {
	Execute(ctx context.Context, input map[string]any) (WorkflowResult, error)
}

// runState is the mutable state of one run, shared by the Level Executor,
// Branch Resolver, and Strategy Engine. One runState exists per Execute
// call; it is never reused across runs.
type runState struct {
	ctx    *Context
	config Config
	logger *slog.Logger
	tracer Tracer

	mu     sync.Mutex
	status map[*Task]TaskStatus

	dynamicTasksGenerated int
	totalSteps            int

	// emit, when non-nil, is called by the Level Executor for every
	// StreamChunk a streaming-mode run produces (task start/complete/error
	// plus pass-through chunks from event-streaming tasks). totalTasks
	// reports the current size of the task set, used to compute the
	// workflow-level progress percentage (the set may grow between steps
	// in the strategy engine).
	emit       emitFunc
	totalTasks func() int
	streamDone int

	// llmText and llmEvent, when non-nil, receive live output from
	// LLM-streaming tasks during an LLM-mode run (see streamllm.go). Mutually
	// exclusive with emit: a run is driven by at most one of the two
	// Streaming Adapters.
	llmText  func(string)
	llmEvent func(LLMEvent)
}

// emitWorkflowProgress sends a workflow-level progress chunk reporting the
// percentage of known tasks that have reached a terminal state: completed,
// failed, or skipped, rounded to the nearest whole percent. It is called
// once per task that reaches any of those three states, which increments
// rs.streamDone (skipped tasks, whether skipped by a skipped predecessor or
// excluded by the Branch Resolver, produce no task-level chunk of their
// own, but still call this so the percentage reaches 100% rather than
// stalling on tasks that were never going to run). totalTasks may grow
// between calls in the strategy engine.
func (rs *runState) emitWorkflowProgress() {
	if rs.emit == nil {
		return
	}
	rs.mu.Lock()
	rs.streamDone++
	done := rs.streamDone
	rs.mu.Unlock()

	total := 0
	if rs.totalTasks != nil {
		total = rs.totalTasks()
	}
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(done) / float64(total) * 100.0))
		if pct > 100 {
			pct = 100
		}
	}
	rs.emit(StreamChunk{Kind: ChunkProgress, TaskName: "workflow", Progress: pct, TimestampMs: nowMillis()})
}

// emitRunStart sends the run-level "run_start" LLMEvent that opens an
// LLM-mode run, mirroring the workflow-progress chunk the event-mode adapter
// sends before any task runs.
func (rs *runState) emitRunStart() {
	if rs.llmEvent == nil {
		return
	}
	rs.llmEvent(LLMEvent{Kind: "run_start", TimestampMs: nowMillis()})
}

func newRunState(config Config, logger *slog.Logger, tracer Tracer, input map[string]any) *runState {
	if logger == nil {
		logger = nopLogger
	}
	if tracer == nil {
		tracer = noopTracer{}
	}
	return &runState{
		ctx:    NewContext(input),
		config: config,
		logger: logger,
		tracer: tracer,
		status: make(map[*Task]TaskStatus),
	}
}

// buildResult converts the accumulated history into a WorkflowResult.
// runErr, if non-nil, marks the run as failed with that cause; otherwise
// success is true.
func (rs *runState) buildResult(runID string, start time.Time, runErr error) WorkflowResult {
	history := rs.ctx.History()
	return WorkflowResult{
		RunID:                 runID,
		Success:                runErr == nil,
		Data:                   rs.ctx.GetAll(),
		Error:                  runErr,
		ExecutionTimeMs:        time.Since(start).Milliseconds(),
		TaskResults:            buildTaskResults(history),
		DynamicTasksGenerated:  rs.dynamicTasksGenerated,
		TotalSteps:             rs.totalSteps,
	}
}

// buildTaskResults disambiguates taskResults keys on name collision by
// appending _1, _2, … to the second and later occurrences; the first
// occurrence keeps the bare name.
func buildTaskResults(history []TaskExecutionResult) map[string]TaskExecutionResult {
	out := make(map[string]TaskExecutionResult, len(history))
	counts := make(map[string]int, len(history))
	for _, h := range history {
		key := h.TaskName
		if _, exists := out[key]; exists {
			counts[h.TaskName]++
			key = fmt.Sprintf("%s_%d", h.TaskName, counts[h.TaskName])
		}
		out[key] = h
	}
	return out
}

// --- Static engine ---

// staticEngine runs the fixed task set level by level and surfaces the
// first level failure as the run outcome.
type staticEngine struct {
	tasks  []*Task
	config Config
	logger *slog.Logger
	tracer Tracer
}

func (e *staticEngine) Execute(ctx context.Context, input map[string]any) (WorkflowResult, error) {
	return e.execute(ctx, input, nil)
}

// executeObserved runs identically to Execute but routes every StreamChunk
// the run produces through emit, for the event-mode Streaming Adapter.
func (e *staticEngine) executeObserved(ctx context.Context, input map[string]any, emit emitFunc) (WorkflowResult, error) {
	return e.execute(ctx, input, func(rs *runState) { rs.emit = emit })
}

// executeObservedLLM runs identically to Execute but routes live text and
// structured events from LLM-streaming tasks through text/event, for the
// LLM-mode Streaming Adapter.
func (e *staticEngine) executeObservedLLM(ctx context.Context, input map[string]any, text func(string), event func(LLMEvent)) (WorkflowResult, error) {
	return e.execute(ctx, input, func(rs *runState) { rs.llmText = text; rs.llmEvent = event })
}

func (e *staticEngine) execute(ctx context.Context, input map[string]any, configure func(*runState)) (WorkflowResult, error) {
	start := time.Now()
	runID := NewRunID()
	rs := newRunState(e.config, e.logger, e.tracer, input)
	total := len(e.tasks)
	rs.totalTasks = func() int { return total }
	if configure != nil {
		configure(rs)
	}
	rs.emitRunStart()

	rootCtx, span := rs.tracer.Start(ctx, "dagflow.run", StringAttr("run.id", runID))
	defer span.End()

	levels, err := analyze(e.tasks)
	if err != nil {
		span.Error(err)
		result := rs.buildResult(runID, start, err)
		return result, err
	}

	var runErr error
	for _, level := range levels {
		if err := runBatch(rootCtx, rs, level); err != nil {
			runErr = err
			span.Error(err)
			break
		}
	}

	result := rs.buildResult(runID, start, runErr)
	return result, runErr
}

// --- Strategy engine ---

// strategyEngine runs the step loop: a task set that may grow between
// rounds as registered DynamicStrategy values fire.
type strategyEngine struct {
	tasks      []*Task
	strategies []*DynamicStrategy
	config     Config
	logger     *slog.Logger
	tracer     Tracer
}

func (e *strategyEngine) Execute(ctx context.Context, input map[string]any) (WorkflowResult, error) {
	return e.execute(ctx, input, nil)
}

// executeObserved runs identically to Execute but routes every StreamChunk
// the run produces through emit, for the event-mode Streaming Adapter.
func (e *strategyEngine) executeObserved(ctx context.Context, input map[string]any, emit emitFunc) (WorkflowResult, error) {
	return e.execute(ctx, input, func(rs *runState) { rs.emit = emit })
}

// executeObservedLLM runs identically to Execute but routes live text and
// structured events from LLM-streaming tasks through text/event, for the
// LLM-mode Streaming Adapter.
func (e *strategyEngine) executeObservedLLM(ctx context.Context, input map[string]any, text func(string), event func(LLMEvent)) (WorkflowResult, error) {
	return e.execute(ctx, input, func(rs *runState) { rs.llmText = text; rs.llmEvent = event })
}

func (e *strategyEngine) execute(ctx context.Context, input map[string]any, configure func(*runState)) (WorkflowResult, error) {
	start := time.Now()
	runID := NewRunID()
	rs := newRunState(e.config, e.logger, e.tracer, input)
	if configure != nil {
		configure(rs)
	}
	rs.emitRunStart()

	rootCtx, span := rs.tracer.Start(ctx, "dagflow.run", StringAttr("run.id", runID))
	defer span.End()

	tasks := append([]*Task(nil), e.tasks...)
	rs.totalTasks = func() int { return len(tasks) }
	used := make(map[*DynamicStrategy]bool, len(e.strategies))
	maxSteps := e.config.maxDynamicSteps()

	for step := 0; ; step++ {
		ready := readySet(rs, tasks)
		if len(ready) == 0 {
			break
		}

		// failures inside a step do not abort the step or the run.
		_ = runBatch(rootCtx, rs, ready)

		fired := evaluateStrategies(rootCtx, rs, e.strategies, used, &tasks)

		rs.totalSteps = step + 1
		if rs.llmEvent != nil {
			rs.llmEvent(LLMEvent{Kind: "dynamic_step", Data: map[string]any{"step": rs.totalSteps, "generated": fired}, TimestampMs: nowMillis()})
		}
		if rs.totalSteps >= maxSteps {
			break
		}
	}

	runErr := e.terminalError(rs, tasks)
	result := rs.buildResult(runID, start, runErr)
	if runErr != nil {
		span.Error(runErr)
	}
	return result, runErr
}

// terminalError classifies the post-loop state: if tasks remain
// unprocessed, that's either a budget exhaustion (step cap hit while at
// least one remaining task was still ready to run) or a cycle (no remaining
// task can become ready).
func (e *strategyEngine) terminalError(rs *runState, tasks []*Task) error {
	var remaining []string
	for _, t := range tasks {
		rs.mu.Lock()
		_, terminal := rs.terminalStatus(t)
		rs.mu.Unlock()
		if !terminal {
			remaining = append(remaining, t.name)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	if rs.totalSteps >= e.config.maxDynamicSteps() && len(readySet(rs, tasks)) > 0 {
		return &MaxStepsError{Steps: rs.totalSteps, Remaining: remaining}
	}
	return &CycleError{Pending: remaining}
}

// readySet computes tasks not yet processed whose every predecessor is
// already processed (any terminal status — completed, failed, or skipped).
// Predecessors are its DependsOn tasks plus any task whose branches or
// default set name it, so branch resolution runs before it can be ready.
func readySet(rs *runState, tasks []*Task) []*Task {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	blocked := make(map[*Task]bool)
	for _, u := range tasks {
		if _, terminal := rs.terminalStatus(u); !terminal {
			for _, b := range u.branches {
				for _, s := range b.Successors {
					blocked[s] = true
				}
			}
			for _, s := range u.defaultTo {
				blocked[s] = true
			}
		}
	}

	var ready []*Task
	for _, t := range tasks {
		if _, terminal := rs.terminalStatus(t); terminal || blocked[t] {
			continue
		}
		allProcessed := true
		for _, pred := range t.dependsOn {
			if _, ok := rs.terminalStatus(pred); !ok {
				allProcessed = false
				break
			}
		}
		if allProcessed {
			ready = append(ready, t)
		}
	}
	return ready
}
