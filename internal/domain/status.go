package domain

// ExecutionStatus is the closed enumeration of task execution states (§3).
type ExecutionStatus string

const (
	Initializing ExecutionStatus = "Initializing"
	Running      ExecutionStatus = "Running"
	Success      ExecutionStatus = "Success"
	Failed       ExecutionStatus = "Failed"
)

// IsDone reports whether status is a terminal status (Success or Failed).
func (s ExecutionStatus) IsDone() bool {
	return s == Success || s == Failed
}

// IsReady reports whether status is unset, Initializing, or Running — i.e.
// not yet terminal.
func (s ExecutionStatus) IsReady() bool {
	return s == "" || s == Initializing || s == Running
}

// RunCondition is the closed enumeration of predicates gating a task on its
// immediate parents' statuses (§3).
type RunCondition string

const (
	RunConditionNone       RunCondition = "None"
	RunConditionAllDone    RunCondition = "AllDone"
	RunConditionOneDone    RunCondition = "OneDone"
	RunConditionAllSuccess RunCondition = "AllSuccess"
	RunConditionOneSuccess RunCondition = "OneSuccess"
	RunConditionAllFailed  RunCondition = "AllFailed"
	RunConditionOneFailed  RunCondition = "OneFailed"
)

// Evaluate applies the RunCondition predicate to the statuses of a task's
// immediate parents. An empty parents slice satisfies RunConditionNone and
// the All* conditions and none of the One* conditions (Dag.NextStage only
// evaluates nodes that have at least one parent).
func (c RunCondition) Evaluate(parents []ExecutionStatus) bool {
	switch c {
	case RunConditionNone, "":
		// No additional condition beyond the default gate: wait for every
		// immediate parent to finish, regardless of outcome. Equivalent to
		// AllDone — see DESIGN.md for why "unconditional" can't mean
		// "ignores parent status entirely" without breaking §8 scenario (a).
		for _, p := range parents {
			if !p.IsDone() {
				return false
			}
		}
		return true
	case RunConditionAllDone:
		for _, p := range parents {
			if !p.IsDone() {
				return false
			}
		}
		return true
	case RunConditionOneDone:
		for _, p := range parents {
			if p.IsDone() {
				return true
			}
		}
		return false
	case RunConditionAllSuccess:
		for _, p := range parents {
			if p != Success {
				return false
			}
		}
		return true
	case RunConditionOneSuccess:
		for _, p := range parents {
			if p == Success {
				return true
			}
		}
		return false
	case RunConditionAllFailed:
		for _, p := range parents {
			if p != Failed {
				return false
			}
		}
		return true
	case RunConditionOneFailed:
		for _, p := range parents {
			if p == Failed {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// RunState is the closed enumeration of a WorkflowInstance's lifecycle
// states (§4.3).
type RunState string

const (
	RunStateNothing RunState = "nothing"
	RunStateQueued  RunState = "queued"
	RunStateRunning RunState = "running"
	RunStateSuccess RunState = "success"
	RunStateFailed  RunState = "failed"
)

// Active reports whether the state counts against max_active_runs.
func (s RunState) Active() bool {
	return s == RunStateQueued || s == RunStateRunning
}
