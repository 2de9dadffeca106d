package dagflow

import (
	"context"
	"fmt"
	"log/slog"
)

// StrategyOption configures a DynamicStrategy built via the Builder's
// condition-sugar methods (WhenCondition, OnTaskComplete, OnContextChange).
type StrategyOption func(*DynamicStrategy)

// WithPriority overrides a sugar strategy's default priority (0).
func WithPriority(p int) StrategyOption {
	return func(s *DynamicStrategy) { s.Priority = p }
}

// WithOnce overrides a sugar strategy's default Once setting (true).
func WithOnce(once bool) StrategyOption {
	return func(s *DynamicStrategy) { s.Once = once }
}

// Builder assembles a task set, engine configuration, and dynamic strategies
// into an Engine (or a Streaming/LLMStreaming adapter over one).
// A Builder is single-use: Build/BuildStreaming/BuildLLMStreaming validate
// the accumulated task set (the same *Task added twice) and, for a purely static task
// set (no DynamicStrategy registered), run the DAG Analyzer once to surface
// cycles at build time rather than at Execute time, mirroring this
// codebase's NewWorkflow(name, description, opts...) (*Workflow, error)
// validate-at-construction convention. Once any DynamicStrategy is
// registered the task set can grow at Execute time, so the eager check is
// skipped; a cycle among strategy-generated tasks is instead reported as a
// CycleError from Execute itself.
type Builder struct {
	tasks      []*Task
	strategies []*DynamicStrategy
	config     Config
	logger     *slog.Logger
	tracer     Tracer
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddTask appends a single task to the build.
func (b *Builder) AddTask(t *Task) *Builder {
	if t != nil {
		b.tasks = append(b.tasks, t)
	}
	return b
}

// AddTasks appends multiple tasks to the build.
func (b *Builder) AddTasks(tasks ...*Task) *Builder {
	for _, t := range tasks {
		b.AddTask(t)
	}
	return b
}

// WithConfig merges cfg into the engine configuration: each non-zero field
// of cfg overrides the current value, and zero fields leave it unchanged
// (so RetryBackoff can be switched on here but not off).
func (b *Builder) WithConfig(cfg Config) *Builder {
	if cfg.RetryAttempts != 0 {
		b.config.RetryAttempts = cfg.RetryAttempts
	}
	if cfg.TimeoutMs != 0 {
		b.config.TimeoutMs = cfg.TimeoutMs
	}
	if cfg.MaxDynamicSteps != 0 {
		b.config.MaxDynamicSteps = cfg.MaxDynamicSteps
	}
	if cfg.RetryBackoff {
		b.config.RetryBackoff = true
	}
	return b
}

// WithRetry sets the engine-wide default retry attempts (Config.RetryAttempts).
func (b *Builder) WithRetry(attempts int) *Builder {
	b.config.RetryAttempts = attempts
	return b
}

// WithTimeout sets the advisory per-task timeout hint (Config.TimeoutMs).
func (b *Builder) WithTimeout(ms int) *Builder {
	b.config.TimeoutMs = ms
	return b
}

// WithLogger sets the structured logger used by the run.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithTracer sets the Tracer used by the run.
func (b *Builder) WithTracer(t Tracer) *Builder {
	b.tracer = t
	return b
}

// AddDynamicStrategy registers a DynamicStrategy directly. Presence of any
// registered strategy is what causes Build to return a strategy-driven
// Engine instead of a static one.
func (b *Builder) AddDynamicStrategy(s *DynamicStrategy) *Builder {
	if s != nil {
		b.strategies = append(b.strategies, s)
	}
	return b
}

// WhenCondition registers a strategy that fires the first time predicate
// holds against the run's context snapshot, contributing generator's tasks.
// predicate is only consulted once at least one task has completed — a
// condition evaluated before any task has run has nothing meaningful to
// react to. Sugar over AddDynamicStrategy: defaults to Once: true (fires at
// most one time over the run's lifetime), overridable via opts.
func (b *Builder) WhenCondition(name string, predicate func(ctx context.Context, snapshot map[string]any) bool, generator StrategyGenerator, opts ...StrategyOption) *Builder {
	s := &DynamicStrategy{
		Name: name,
		Predicate: func(ctx context.Context, snapshot, _ map[string]any, runContext *Context) bool {
			if !runContext.hasCompletedTask() {
				return false
			}
			return predicate != nil && predicate(ctx, snapshot)
		},
		Generator: generator,
		Once:      true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return b.AddDynamicStrategy(s)
}

// OnTaskComplete registers a strategy that fires once a history entry named
// taskName with StatusCompleted exists, handing the generator that task's
// output map. Checking history rather than the context snapshot avoids a
// false-positive fire: the snapshot's flattened dual-exposure keys (see
// mergeOutput) can contain a key equal to taskName from an unrelated task's
// output before taskName itself ever runs. Defaults to Once: true.
func (b *Builder) OnTaskComplete(taskName string, generator func(ctx context.Context, output map[string]any) []*Task, opts ...StrategyOption) *Builder {
	s := &DynamicStrategy{
		Name: "on-complete:" + taskName,
		Predicate: func(_ context.Context, _, _ map[string]any, runContext *Context) bool {
			_, ok := runContext.historyByName(taskName, StatusCompleted)
			return ok
		},
		Generator: func(ctx context.Context, snapshot map[string]any) []*Task {
			output, _ := snapshot[taskName].(map[string]any)
			if generator == nil {
				return nil
			}
			return generator(ctx, output)
		},
		Once: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return b.AddDynamicStrategy(s)
}

// OnContextChange registers a strategy that fires once key is present in
// the context snapshot, handing the generator its current value. Defaults
// to Once: true.
func (b *Builder) OnContextChange(key string, generator func(ctx context.Context, value any, snapshot map[string]any) []*Task, opts ...StrategyOption) *Builder {
	s := &DynamicStrategy{
		Name: "on-context:" + key,
		Predicate: func(_ context.Context, snapshot, _ map[string]any, _ *Context) bool {
			_, ok := snapshot[key]
			return ok
		},
		Generator: func(ctx context.Context, snapshot map[string]any) []*Task {
			if generator == nil {
				return nil
			}
			return generator(ctx, snapshot[key], snapshot)
		},
		Once: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return b.AddDynamicStrategy(s)
}

// validate rejects the same *Task added more than once (pointer identity,
// not name, distinguishes nodes, so distinct tasks sharing a name are
// accepted) and, when no DynamicStrategy is registered, runs the DAG
// Analyzer once so a cycle is reported at Build time instead of deferred
// to Execute.
func (b *Builder) validate() error {
	seen := make(map[*Task]bool, len(b.tasks))
	for _, t := range b.tasks {
		if seen[t] {
			return fmt.Errorf("dagflow: task %q added more than once", t.Name())
		}
		seen[t] = true
	}
	if len(b.strategies) == 0 {
		if _, err := analyze(b.tasks); err != nil {
			return err
		}
	}
	return nil
}

// Build validates the configuration and returns an Engine: a static engine
// if no DynamicStrategy was registered, a strategy-driven engine otherwise.
func (b *Builder) Build() (Engine, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if len(b.strategies) == 0 {
		return &staticEngine{tasks: b.tasks, config: b.config, logger: b.logger, tracer: b.tracer}, nil
	}
	return &strategyEngine{tasks: b.tasks, strategies: b.strategies, config: b.config, logger: b.logger, tracer: b.tracer}, nil
}

// BuildStreaming validates the configuration and returns a StreamingEngine
// for the event-mode streaming contract.
func (b *Builder) BuildStreaming() (*StreamingEngine, error) {
	engine, err := b.Build()
	if err != nil {
		return nil, err
	}
	inner, ok := engine.(observedEngine)
	if !ok {
		return nil, fmt.Errorf("dagflow: engine %T does not support streaming", engine)
	}
	return &StreamingEngine{inner: inner}, nil
}

// BuildLLMStreaming validates the configuration and returns an
// LLMStreamingEngine for the LLM-mode streaming contract.
func (b *Builder) BuildLLMStreaming() (*LLMStreamingEngine, error) {
	engine, err := b.Build()
	if err != nil {
		return nil, err
	}
	inner, ok := engine.(llmObservedEngine)
	if !ok {
		return nil, fmt.Errorf("dagflow: engine %T does not support LLM streaming", engine)
	}
	return &LLMStreamingEngine{inner: inner}, nil
}
