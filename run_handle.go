package dagflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunState reports the execution state of a run launched with Spawn.
type RunState int32

const (
	RunPending RunState = iota
	RunRunning
	RunCompleted
	RunFailed
	RunCancelled
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is a final state.
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// SpawnOption configures a Spawn call.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	logger *slog.Logger
}

// SpawnLogger sets the structured logger used for run lifecycle logging.
func SpawnLogger(l *slog.Logger) SpawnOption {
	return func(c *spawnConfig) { c.logger = l }
}

// RunHandle tracks a workflow run launched in the background by Spawn. All
// methods are safe for concurrent use.
type RunHandle struct {
	id     string
	state  atomic.Int32
	result WorkflowResult
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Spawn launches engine.Execute(ctx, input) in a background goroutine and
// returns immediately with a handle for tracking, awaiting, and cancelling
// the run — generalizing this codebase's Spawn/AgentHandle convention from a
// single agent call to a whole workflow run.
func Spawn(ctx context.Context, engine Engine, input map[string]any, opts ...SpawnOption) *RunHandle {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	logger := cfg.logger

	ctx, cancel := context.WithCancel(ctx)
	h := &RunHandle{
		id:     NewRunID(),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	h.state.Store(int32(RunPending))

	logger.Info("run spawned", "run_id", h.id)

	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("spawned run panic", "run_id", h.id, "panic", fmt.Sprintf("%v", p))
				h.result = WorkflowResult{}
				h.err = fmt.Errorf("run panic: %v", p)
				h.state.Store(int32(RunFailed))
				close(h.done)
			}
		}()
		h.state.Store(int32(RunRunning))
		start := time.Now()
		result, err := engine.Execute(ctx, input)

		// Write result/err before close(done): the channel close is the
		// happens-before barrier guaranteeing Await/State/Result see these
		// writes after it.
		h.result = result
		h.err = err
		switch {
		case ctx.Err() != nil && err != nil:
			h.state.Store(int32(RunCancelled))
			logger.Info("spawned run cancelled", "run_id", h.id, "duration", time.Since(start))
		case err != nil:
			h.state.Store(int32(RunFailed))
			logger.Error("spawned run failed", "run_id", h.id, "error", err, "duration", time.Since(start))
		default:
			h.state.Store(int32(RunCompleted))
			logger.Info("spawned run completed", "run_id", h.id, "duration", time.Since(start),
				"dynamic_tasks", result.DynamicTasksGenerated, "steps", result.TotalSteps)
		}
		close(h.done)
	}()

	return h
}

// ID returns the run's identifier.
func (h *RunHandle) ID() string { return h.id }

// State returns the current execution state. If terminal, State blocks
// until Done() is closed (nanoseconds) so a State().IsTerminal() caller is
// guaranteed Result() returns valid data.
func (h *RunHandle) State() RunState {
	s := RunState(h.state.Load())
	if s.IsTerminal() {
		<-h.done
	}
	return s
}

// Done returns a channel closed when the run finishes in any terminal state.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the run completes or ctx is cancelled.
func (h *RunHandle) Await(ctx context.Context) (WorkflowResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return WorkflowResult{}, ctx.Err()
	}
}

// Cancel cancels the run's context. The run observes cancellation the next
// time it checks ctx (between tasks, or inside a task that honors ctx).
func (h *RunHandle) Cancel() { h.cancel() }
