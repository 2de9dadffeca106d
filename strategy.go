package dagflow

import "context"

// StrategyPredicate decides whether a strategy should fire this step.
// lastOutput is the output map of the most recently completed task, or nil.
// runContext exposes the run's full execution history (Context.History),
// for predicates that need to check task-level completion rather than just
// the dual-exposure snapshot.
type StrategyPredicate func(ctx context.Context, snapshot map[string]any, lastOutput map[string]any, runContext *Context) bool

// StrategyGenerator produces new tasks to append to the run when its
// strategy's predicate fires.
type StrategyGenerator func(ctx context.Context, snapshot map[string]any) []*Task

// DynamicStrategy is a rule evaluated by the Strategy Engine between
// execution rounds. Strategies whose predicate fires contribute the tasks
// returned by their generator to the running task set.
type DynamicStrategy struct {
	Name      string
	Predicate StrategyPredicate
	Generator StrategyGenerator
	Priority  int
	Once      bool
}

// evaluateStrategies runs one round of strategy evaluation: strategies
// sorted by descending priority, each evaluated at most once if Once, errors from a
// predicate/generator logged and treated as non-firing. Newly generated
// tasks are appended to *tasks. Returns the count of tasks generated this
// round.
func evaluateStrategies(ctx context.Context, rs *runState, strategies []*DynamicStrategy, used map[*DynamicStrategy]bool, tasks *[]*Task) int {
	ordered := sortedByPriorityDesc(strategies)

	generated := 0
	snapshot := rs.ctx.GetAll()
	lastOutput := rs.ctx.LastOutput()

	for _, s := range ordered {
		if s.Once && used[s] {
			continue
		}

		fires, genTasks := safeEvaluate(ctx, rs, s, snapshot, lastOutput)
		if !fires {
			continue
		}

		*tasks = append(*tasks, genTasks...)
		generated += len(genTasks)
		rs.dynamicTasksGenerated += len(genTasks)
		if s.Once {
			used[s] = true
		}
	}
	return generated
}

// safeEvaluate recovers from panics in user-supplied predicate/generator
// functions, treating them the same as a returned error: logged, and the
// strategy treated as non-firing for this step.
func safeEvaluate(ctx context.Context, rs *runState, s *DynamicStrategy, snapshot, lastOutput map[string]any) (fires bool, tasks []*Task) {
	defer func() {
		if r := recover(); r != nil {
			rs.logger.Error("strategy panicked", "strategy", s.Name, "panic", r)
			fires = false
			tasks = nil
		}
	}()

	if s.Predicate == nil || !s.Predicate(ctx, snapshot, lastOutput, rs.ctx) {
		return false, nil
	}
	if s.Generator == nil {
		return false, nil
	}
	return true, s.Generator(ctx, snapshot)
}

// sortedByPriorityDesc returns a copy of strategies ordered by descending
// Priority, stable on ties (registration order preserved).
func sortedByPriorityDesc(strategies []*DynamicStrategy) []*DynamicStrategy {
	out := append([]*DynamicStrategy(nil), strategies...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Priority < out[j].Priority; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
