package domain

// node is one task's position in the graph: its mutable instance state plus
// dense-index adjacency, per the §9 "graph with back-references" guidance
// (integer indices rather than pointers, to sidestep aliasing between the
// forward and reverse adjacency views).
type node struct {
	instance *TaskInstance
	children []int // indices into Dag.nodes, in DownstreamTasks order
	parents  []int // reverse adjacency, built once at construction
}

// Dag is the directed acyclic graph of one workflow's tasks. Structure is
// immutable after construction; only TaskInstance status fields mutate
// during execution.
type Dag struct {
	nodes   []*node
	byID    map[string]int
	topo    []int // a fixed topological order, computed once at construction
}

// BuildDag constructs a Dag from a task list (§4.1).
//
//   - Nodes are allocated one per task, in input order.
//   - A task with an empty Execution descriptor fails construction
//     (ErrParsing).
//   - downstream_tasks entries that don't resolve to a task_id in the same
//     workflow are silently ignored when building edges (§3 invariant i;
//     §9 flags this as an open question the spec fixes this way).
//   - The resulting graph must be acyclic, or construction fails
//     (ErrCyclicDependency).
func BuildDag(workflowID string, tasks []TaskDefinition) (*Dag, error) {
	d := &Dag{byID: make(map[string]int, len(tasks))}

	for _, t := range tasks {
		if t.Execution.IsZero() {
			return nil, NewParsingError(workflowID, "task "+t.TaskID+" has no execution descriptor")
		}
		idx := len(d.nodes)
		d.byID[t.TaskID] = idx
		d.nodes = append(d.nodes, &node{instance: newTaskInstance(t)})
	}

	for idx, t := range tasks {
		for _, downID := range t.DownstreamTasks {
			childIdx, ok := d.byID[downID]
			if !ok {
				continue // unresolved reference: silently ignored (§3 invariant i)
			}
			d.nodes[idx].children = append(d.nodes[idx].children, childIdx)
			d.nodes[childIdx].parents = append(d.nodes[childIdx].parents, idx)
		}
	}

	topo, err := topologicalOrder(d.nodes)
	if err != nil {
		return nil, NewCyclicDependencyError(workflowID)
	}
	d.topo = topo

	return d, nil
}

// topologicalOrder computes a valid topological order of nodes, breaking
// ties by insertion (node index) order, via Kahn's algorithm. Returns an
// error if the graph contains a cycle.
func topologicalOrder(nodes []*node) ([]int, error) {
	indegree := make([]int, len(nodes))
	for _, n := range nodes {
		for _, c := range n.children {
			indegree[c]++
		}
	}

	// A simple slice used as a FIFO queue; ties broken by ascending index
	// since we scan in index order each round.
	queue := make([]int, 0, len(nodes))
	inQueue := make([]bool, len(nodes))
	for i := range nodes {
		if indegree[i] == 0 {
			queue = append(queue, i)
			inQueue[i] = true
		}
	}

	order := make([]int, 0, len(nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, c := range nodes[i].children {
			indegree[c]--
			if indegree[c] == 0 && !inQueue[c] {
				queue = append(queue, c)
				inQueue[c] = true
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, errCycle
	}
	return order, nil
}

var errCycle = &Error{Kind: ErrCyclicDependency, Message: "cycle detected during topological sort"}

// TaskInstance returns the TaskInstance for the given task_id, or nil if no
// such task exists in this Dag.
func (d *Dag) TaskInstance(taskID string) *TaskInstance {
	idx, ok := d.byID[taskID]
	if !ok {
		return nil
	}
	return d.nodes[idx].instance
}

// AllTaskInstances returns every TaskInstance in the Dag, in topological
// order.
func (d *Dag) AllTaskInstances() []*TaskInstance {
	out := make([]*TaskInstance, len(d.topo))
	for i, idx := range d.topo {
		out[i] = d.nodes[idx].instance
	}
	return out
}

// HasFailedExhausted reports whether any task instance is terminally
// Failed — the instance-level failure signal of §4.3's run(). A task only
// ever reaches status Failed once its retries are exhausted (see
// WorkflowInstance.TaskOutcome); a retry-eligible failure resets status to
// unset instead.
func (d *Dag) HasFailedExhausted() bool {
	for _, n := range d.nodes {
		if n.instance.ExecutionStatus == Failed {
			return true
		}
	}
	return false
}

// NextStage computes the next execution stage: the set of task instances
// eligible to run right now given current statuses (§4.1). ok is false when
// no tasks remain eligible or unfinished (exhaustion).
//
// Eligibility algorithm, evaluated fresh from scratch on every call (stage
// computation is linear in DAG size and is invoked at most once per tick per
// instance, per §5):
//
//  1. Walk nodes in topological order.
//  2. A done node (Success or Failed) contributes nothing further — its
//     descendants are gated purely by their own RunCondition against its
//     now-terminal status.
//  3. A node currently mid-flight (Initializing or Running) is left alone —
//     it was already dispatched by an earlier stage and is not re-offered.
//  4. A graph root (no parents) with unset status joins the stage
//     unconditionally, subject only to retry backoff.
//  5. A non-root node with unset status evaluates its RunCondition against
//     its immediate parents' current statuses; it joins the stage only if
//     the predicate holds.
//
// §9 Open Question 1 resolution: "blocked" in the source draft is a static
// structural property (having at least one parent), not something earned by
// being visited in a given pass — a node's gating always runs against its
// parents' *current* statuses, which for RunConditionNone requires every
// parent to already be done. This is the reading that reproduces worked
// scenarios (a)–(d) in §8 (notably: a linear chain's first stage is exactly
// its root, not the whole chain) — see DESIGN.md for the full justification.
func (d *Dag) NextStage() (stage []*TaskInstance, ok bool) {
	for _, idx := range d.topo {
		n := d.nodes[idx]
		ti := n.instance

		switch {
		case ti.ExecutionStatus.IsDone():
			continue
		case ti.ExecutionStatus == Initializing || ti.ExecutionStatus == Running:
			continue
		case !ti.NextEligibleAt.IsZero() && nowFunc().Before(ti.NextEligibleAt):
			continue // retry backoff not yet elapsed (§9 Open Question 2)
		case len(n.parents) == 0:
			stage = append(stage, ti)
		default:
			parentStatuses := make([]ExecutionStatus, len(n.parents))
			for i, p := range n.parents {
				parentStatuses[i] = d.nodes[p].instance.ExecutionStatus
			}
			if ti.RunCondition.Evaluate(parentStatuses) {
				stage = append(stage, ti)
			}
		}
	}

	return stage, len(stage) > 0
}

// Exhausted reports whether the Dag has nothing left to run: no stage is
// available now, no task is in flight (Initializing or Running), and no task
// is waiting out a retry backoff. Tasks whose RunCondition can never hold do
// not keep the Dag from being exhausted. Used by run() to decide between
// Success and Failed at stage exhaustion.
func (d *Dag) Exhausted() bool {
	if _, ok := d.NextStage(); ok {
		return false
	}
	for _, n := range d.nodes {
		ti := n.instance
		if ti.ExecutionStatus == Initializing || ti.ExecutionStatus == Running {
			return false
		}
		if ti.ExecutionStatus == "" && !ti.NextEligibleAt.IsZero() {
			return false
		}
	}
	return true
}
