package dagflow

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
)

// runBatch executes a set of ready tasks concurrently via an errgroup and
// returns the first task error observed, if any. Every task in batch is
// awaited regardless of whether an earlier one failed: failures of
// individual tasks at a level do not abort their peers.
func runBatch(ctx context.Context, rs *runState, batch []*Task) error {
	g := new(errgroup.Group)
	for _, t := range batch {
		t := t
		g.Go(func() error {
			return rs.runOne(ctx, t)
		})
	}
	return g.Wait()
}

// runOne resolves one task's fate: skip-cascade, or execute-with-retry plus
// output merge and branch resolution. It is safe to call concurrently for
// distinct tasks that do not share an edge.
func (rs *runState) runOne(ctx context.Context, t *Task) error {
	rs.mu.Lock()
	if _, terminal := rs.terminalStatus(t); terminal {
		rs.mu.Unlock()
		return nil
	}
	skip := false
	for _, pred := range t.dependsOn {
		if st, ok := rs.status[pred]; ok && st == StatusSkipped {
			skip = true
			break
		}
	}
	if skip {
		rs.markSkippedLocked(t)
		rs.mu.Unlock()
		rs.emitWorkflowProgress()
		return nil
	}
	rs.status[t] = StatusRunning
	rs.mu.Unlock()

	return rs.executeWithRetry(ctx, t)
}

func (rs *runState) terminalStatus(t *Task) (TaskStatus, bool) {
	st, ok := rs.status[t]
	if !ok {
		return "", false
	}
	return st, st == StatusCompleted || st == StatusFailed || st == StatusSkipped
}

func (rs *runState) markSkippedLocked(t *Task) {
	rs.status[t] = StatusSkipped
	rs.ctx.AppendHistory(TaskExecutionResult{
		TaskName:    t.name,
		Status:      StatusSkipped,
		TimestampMs: nowMillis(),
	})
}

// executeWithRetry runs t.run up to its effective retry bound, applying
// inter-attempt backoff when the engine config enables it (see
// Config.RetryBackoff, grounded on this codebase's exponential-backoff-
// plus-jitter retry helper). On exhaustion the task is marked failed; on
// success its output is merged into context and, if it declares branches,
// the Branch Resolver runs before returning.
func (rs *runState) executeWithRetry(ctx context.Context, t *Task) error {
	attempts := t.effectiveRetryCount(rs.config.RetryAttempts)
	snapshot := rs.ctx.GetAll()

	if rs.emit != nil {
		rs.emit(StreamChunk{Kind: ChunkProgress, TaskName: t.name, Progress: 0, TimestampMs: nowMillis()})
	}
	if rs.llmEvent != nil {
		rs.llmEvent(LLMEvent{Kind: "task_start", TaskName: t.name, TimestampMs: nowMillis()})
	}

	var lastErr error
	start := time.Now()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && rs.config.RetryBackoff {
			delay := backoffDelay(attempt - 2)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				attempt = attempts + 1 // stop looping
			case <-timer.C:
			}
			if lastErr != nil {
				break
			}
		}

		spanCtx, span := rs.tracer.Start(ctx, "dagflow.task", StringAttr("task.name", t.name), IntAttr("task.attempt", attempt))
		var (
			output map[string]any
			err    error
		)
		if rs.llmText != nil || rs.llmEvent != nil {
			output, err = t.runObservedLLM(spanCtx, snapshot, rs.llmText, rs.llmEvent)
		} else {
			var forward func(StreamChunk)
			if rs.emit != nil {
				forward = rs.emit
			}
			output, err = t.runObserved(spanCtx, snapshot, forward)
		}
		if err == nil {
			span.End()
			duration := time.Since(start)
			rs.mergeOutput(t, output)
			rs.mu.Lock()
			rs.status[t] = StatusCompleted
			rs.mu.Unlock()
			rs.ctx.AppendHistory(TaskExecutionResult{
				TaskName:    t.name,
				Status:      StatusCompleted,
				Output:      output,
				DurationMs:  duration.Milliseconds(),
				TimestampMs: nowMillis(),
			})
			rs.logger.Info("task completed", "task", t.name, "attempt", attempt, "duration_ms", duration.Milliseconds())
			if rs.emit != nil {
				rs.emit(StreamChunk{Kind: ChunkComplete, TaskName: t.name, TimestampMs: nowMillis()})
				rs.emitWorkflowProgress()
			}
			if rs.llmEvent != nil {
				rs.llmEvent(LLMEvent{Kind: "task_complete", TaskName: t.name, TimestampMs: nowMillis()})
			}
			if len(t.branches) > 0 || len(t.defaultTo) > 0 {
				resolveBranches(ctx, rs, t)
			}
			return nil
		}

		span.Error(err)
		span.End()
		lastErr = err
		if t.onError != nil {
			t.onError(ctx, attempt, err)
		}
		rs.logger.Warn("task attempt failed", "task", t.name, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	duration := time.Since(start)
	rs.mu.Lock()
	rs.status[t] = StatusFailed
	rs.mu.Unlock()
	rs.ctx.AppendHistory(TaskExecutionResult{
		TaskName:     t.name,
		Status:       StatusFailed,
		ErrorMessage: lastErr.Error(),
		DurationMs:   duration.Milliseconds(),
		TimestampMs:  nowMillis(),
	})
	if rs.emit != nil {
		rs.emit(StreamChunk{Kind: ChunkError, TaskName: t.name, Content: lastErr.Error(), TimestampMs: nowMillis()})
		rs.emitWorkflowProgress()
	}
	if rs.llmEvent != nil {
		rs.llmEvent(LLMEvent{Kind: "task_error", TaskName: t.name, Text: lastErr.Error(), TimestampMs: nowMillis()})
	}
	return &TaskError{TaskName: t.name, Attempts: attempts, Err: lastErr}
}

// mergeOutput gives a task's output dual exposure in context: the full
// output map under the task's name key, and each entry flattened as a
// top-level key (last writer wins on shadowing).
func (rs *runState) mergeOutput(t *Task, output map[string]any) {
	rs.ctx.Set(t.name, output)
	for k, v := range output {
		rs.ctx.Set(k, v)
	}
}

// backoffDelay returns the delay before retry attempt i (0-indexed),
// exponential with jitter: base * 2^i + up to 50% jitter, grounded on this
// codebase's retryBackoff helper.
func backoffDelay(i int) time.Duration {
	const base = 200 * time.Millisecond
	exp := float64(base) * math.Pow(2, float64(i))
	jitter := exp * 0.5 * rand.Float64()
	return time.Duration(exp + jitter)
}
