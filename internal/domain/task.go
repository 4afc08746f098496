package domain

import "time"

// ExecutorKind identifies the family of executor a task's execution
// descriptor requires (§6).
type ExecutorKind int32

const (
	ExecutorKindLocal ExecutorKind = 0
)

// LocalSpecification is the capability descriptor for ExecutorKindLocal.
type LocalSpecification struct {
	Packages []string `json:"packages,omitempty"`
}

// ExecutorDefinition identifies the kind and capability requirements of the
// executor a task needs.
type ExecutorDefinition struct {
	Kind  ExecutorKind        `json:"kind"`
	Local *LocalSpecification `json:"local,omitempty"`
}

// Satisfies reports whether this (offered) definition's capabilities are a
// superset of requested's — the subset-matching rule of §4.2/§9 Open
// Question 4.
func (d ExecutorDefinition) Satisfies(requested ExecutorDefinition) bool {
	if d.Kind != requested.Kind {
		return false
	}
	if requested.Local == nil || len(requested.Local.Packages) == 0 {
		return true
	}
	if d.Local == nil {
		return false
	}
	offered := make(map[string]struct{}, len(d.Local.Packages))
	for _, p := range d.Local.Packages {
		offered[p] = struct{}{}
	}
	for _, p := range requested.Local.Packages {
		if _, ok := offered[p]; !ok {
			return false
		}
	}
	return true
}

// Exec is the kind-specific execution payload. Only ShellCommand is
// populated for ExecutorKindLocal; additional kinds extend this struct as
// new ExecutorKind values are added.
type Exec struct {
	ShellCommand string            `json:"shell_command,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// Execution bundles the executor requirement with the kind-specific
// payload (§3's "Execution descriptor").
type Execution struct {
	Definition ExecutorDefinition `json:"definition"`
	Exec       Exec                `json:"exec"`
}

// IsZero reports whether the execution descriptor is empty — used by DAG
// construction to reject tasks lacking an execution descriptor (ErrParsing).
func (e Execution) IsZero() bool {
	return e.Exec.ShellCommand == "" && len(e.Exec.Env) == 0 && e.Definition.Kind == ExecutorKindLocal && e.Definition.Local == nil
}

// TaskDefinition is the immutable, per-version description of one task
// within a workflow (§3).
type TaskDefinition struct {
	TaskID          string        `json:"task_id"`
	Retries         int           `json:"retries"`
	RetryInterval   time.Duration `json:"retry_interval"`
	Condition       RunCondition  `json:"condition"`
	DownstreamTasks []string      `json:"downstream_tasks"`
	Execution       Execution     `json:"execution"`
}

// WorkflowDefinition is the immutable, per-version description of a
// workflow (§3).
type WorkflowDefinition struct {
	WorkflowID    string           `json:"workflow_id"`
	Schedule      string           `json:"schedule"`
	MaxActiveRuns uint32           `json:"max_active_runs"`
	Tasks         []TaskDefinition `json:"tasks"`
}

// TaskInstance is the per-run mutable state of a task within one
// WorkflowInstance (§3).
type TaskInstance struct {
	TaskID           string
	Retries          int
	MaxRetries       int
	RetryInterval    time.Duration
	ExecutionDetails Execution
	ExecutionStatus  ExecutionStatus
	RunCondition     RunCondition
	DownstreamTasks  []string

	// NextEligibleAt is the earliest time this instance may be re-dispatched
	// after a retry-eligible failure (§9 Open Question 2: retry_interval is a
	// minimum delay, not a fixed sleep). Zero means eligible now.
	NextEligibleAt time.Time

	// TriedExecutors accumulates the URIs of executors already attempted
	// for this task instance, across retries. Dispatch passes it
	// as FindExecutor's block_list (§4.3 step 3) so a retry doesn't land on
	// the same failing executor.
	TriedExecutors []string
}

func newTaskInstance(def TaskDefinition) *TaskInstance {
	return &TaskInstance{
		TaskID:           def.TaskID,
		MaxRetries:       def.Retries,
		RetryInterval:    def.RetryInterval,
		ExecutionDetails: def.Execution,
		RunCondition:     def.Condition,
		DownstreamTasks:  append([]string(nil), def.DownstreamTasks...),
	}
}
