package dagflow

// analyze computes a level-ordered execution plan over tasks using Kahn's
// algorithm, grounded on this codebase's topological-sort/cycle-detection
// idiom, generalized to also emit levels instead of only validating
// acyclicity.
//
// Indegree for a task counts one unit per distinct declaration site that
// names it as a successor: its own DependsOn predecessors, plus, for every
// other task U, one unit for each branch of U or U's default set that
// names this task. Tie-breaking within a level
// follows input order (deterministic, though the contract only promises
// "executable in parallel").
func analyze(tasks []*Task) (levels [][]*Task, err error) {
	indegree := make(map[*Task]int, len(tasks))
	adjacency := make(map[*Task][]*Task, len(tasks))
	index := make(map[*Task]int, len(tasks))
	for i, t := range tasks {
		index[t] = i
		if _, ok := indegree[t]; !ok {
			indegree[t] = 0
		}
	}

	addEdge := func(from, to *Task) {
		adjacency[from] = append(adjacency[from], to)
		indegree[to]++
	}

	for _, t := range tasks {
		for _, pred := range t.dependsOn {
			addEdge(pred, t)
		}
		for _, b := range t.branches {
			for _, succ := range b.Successors {
				addEdge(t, succ)
			}
		}
		for _, succ := range t.defaultTo {
			addEdge(t, succ)
		}
	}

	ready := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if indegree[t] == 0 {
			ready = append(ready, t)
		}
	}

	processed := 0
	for len(ready) > 0 {
		level := ready
		ready = nil
		levels = append(levels, level)
		processed += len(level)

		var next []*Task
		for _, t := range level {
			for _, succ := range adjacency[t] {
				indegree[succ]--
				if indegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		ready = next
	}

	if processed != len(tasks) {
		var pending []string
		for _, t := range tasks {
			if indegree[t] > 0 {
				pending = append(pending, t.name)
			}
		}
		return nil, &CycleError{Pending: pending}
	}

	return levels, nil
}
