package dagflow

import "context"

// resolveBranches runs the conditional-routing pass after task t completes
// successfully.
// Branches are evaluated in declaration order against the post-merge
// context snapshot (t's own output is already visible, since mergeOutput
// ran before this call); the first matching predicate's successor set is
// selected. If none match, the default successor set (if any) is selected.
// Everything named by any branch or the default, minus the selected set, is
// marked skipped — shallow: only these directly named tasks enter the skip
// set. Whatever cascade follows further downstream is not this function's
// concern; it falls out of runOne's "skipped predecessor ⇒ skipped" rule.
func resolveBranches(ctx context.Context, rs *runState, t *Task) {
	snapshot := rs.ctx.GetAll()

	var selected []*Task
	matched := false
	for _, b := range t.branches {
		if b.Predicate != nil && b.Predicate(ctx, snapshot) {
			selected = b.Successors
			matched = true
			break
		}
	}
	if !matched && len(t.defaultTo) > 0 {
		selected = t.defaultTo
	}

	all := make(map[*Task]bool)
	for _, b := range t.branches {
		for _, s := range b.Successors {
			all[s] = true
		}
	}
	for _, s := range t.defaultTo {
		all[s] = true
	}

	isSelected := make(map[*Task]bool, len(selected))
	for _, s := range selected {
		isSelected[s] = true
	}

	skipped := 0
	rs.mu.Lock()
	for s := range all {
		if !isSelected[s] {
			if _, terminal := rs.terminalStatus(s); !terminal {
				rs.markSkippedLocked(s)
				skipped++
			}
		}
	}
	rs.mu.Unlock()
	for i := 0; i < skipped; i++ {
		rs.emitWorkflowProgress()
	}
}
