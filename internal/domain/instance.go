package domain

import "time"

// WorkflowInstance is one materialised run of a workflow at a specific
// RunDate (§3). It owns its own copy of the Dag, frozen at creation time —
// later changes to the workflow definition never rewrite in-flight runs.
type WorkflowInstance struct {
	WIID       int64
	WorkflowID string
	RunState   RunState
	RunDate    time.Time
	Dag        *Dag
}

// NewWorkflowInstance materialises a new instance from a workflow
// definition's task list at the given fire time. WIID is assigned by the
// store on persist and set via SetWIID.
func NewWorkflowInstance(workflowID string, tasks []TaskDefinition, runDate time.Time) (*WorkflowInstance, error) {
	dag, err := BuildDag(workflowID, tasks)
	if err != nil {
		return nil, err
	}
	return &WorkflowInstance{
		WorkflowID: workflowID,
		RunState:   RunStateNothing,
		RunDate:    runDate,
		Dag:        dag,
	}, nil
}

// SetWIID assigns the store-issued identity once the instance is inserted.
func (wi *WorkflowInstance) SetWIID(id int64) { wi.WIID = id }

// Queue transitions Nothing -> Queued. It is idempotent: a no-op from
// Queued, Running, or Success (§4.3, §8 invariant 4). Failed is the only
// state from which an explicit operator re-queue is required, and this
// method permits it as well, since "operator re-queue" is the same
// transition with a different trigger.
func (wi *WorkflowInstance) Queue() (transitioned bool) {
	switch wi.RunState {
	case RunStateNothing, RunStateFailed:
		wi.RunState = RunStateQueued
		return true
	default:
		return false
	}
}

// Start transitions Queued -> Running. No-op if not Queued.
func (wi *WorkflowInstance) Start() (transitioned bool) {
	if wi.RunState != RunStateQueued {
		return false
	}
	wi.RunState = RunStateRunning
	return true
}

// TaskOutcome applies a terminal or retry-eligible outcome reported for one
// task instance within the current stage (§4.3's run() step 4).
//
// On a Failed outcome with retries remaining, the task instance is reset to
// unset status and NextEligibleAt is pushed out by RetryInterval — a
// *minimum* delay before the task becomes eligible again (§9 Open Question
// 2), not a guaranteed-immediate re-dispatch.
func (wi *WorkflowInstance) TaskOutcome(taskID string, status ExecutionStatus, now time.Time) {
	ti := wi.Dag.TaskInstance(taskID)
	if ti == nil {
		return
	}
	if status == Failed && ti.Retries < ti.MaxRetries {
		ti.Retries++
		ti.ExecutionStatus = ""
		ti.NextEligibleAt = now.Add(ti.RetryInterval)
		return
	}
	ti.ExecutionStatus = status
	ti.NextEligibleAt = time.Time{}
}

// Finalize transitions Running -> Success or Running -> Failed once the Dag
// is exhausted (§4.3 run() step 1, §9 Open Question 3: unrelated branches
// are allowed to complete; the instance only fails at exhaustion, and only
// if at least one task is terminally Failed).
func (wi *WorkflowInstance) Finalize() (transitioned bool) {
	if wi.RunState != RunStateRunning {
		return false
	}
	if !wi.Dag.Exhausted() {
		return false
	}
	if wi.Dag.HasFailedExhausted() {
		wi.RunState = RunStateFailed
	} else {
		wi.RunState = RunStateSuccess
	}
	return true
}
