package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellTask(id string, retries int, retryInterval time.Duration, downstream []string, cond RunCondition) TaskDefinition {
	return TaskDefinition{
		TaskID:          id,
		Retries:         retries,
		RetryInterval:   retryInterval,
		Condition:       cond,
		DownstreamTasks: downstream,
		Execution: Execution{
			Definition: ExecutorDefinition{Kind: ExecutorKindLocal},
			Exec:       Exec{ShellCommand: "true"},
		},
	}
}

func TestWorkflowInstanceLifecycle(t *testing.T) {
	wi, err := NewWorkflowInstance("wf", []TaskDefinition{
		shellTask("A", 0, 0, nil, RunConditionNone),
	}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, RunStateNothing, wi.RunState)

	assert.False(t, wi.Start(), "cannot start before queued")

	assert.True(t, wi.Queue())
	assert.Equal(t, RunStateQueued, wi.RunState)
	assert.False(t, wi.Queue(), "queueing an already-queued instance is a no-op")

	assert.True(t, wi.Start())
	assert.Equal(t, RunStateRunning, wi.RunState)

	assert.False(t, wi.Finalize(), "not exhausted yet")

	wi.TaskOutcome("A", Success, time.Now())
	assert.True(t, wi.Finalize())
	assert.Equal(t, RunStateSuccess, wi.RunState)

	assert.False(t, wi.Finalize(), "finalize is not re-entrant once terminal")
}

func TestWorkflowInstanceFailsOnExhaustedFailure(t *testing.T) {
	wi, err := NewWorkflowInstance("wf", []TaskDefinition{
		shellTask("A", 0, 0, nil, RunConditionNone),
	}, time.Now())
	require.NoError(t, err)
	wi.Queue()
	wi.Start()

	wi.TaskOutcome("A", Failed, time.Now())
	assert.True(t, wi.Finalize())
	assert.Equal(t, RunStateFailed, wi.RunState)
}

func TestWorkflowInstanceRetryDelaysFinalization(t *testing.T) {
	wi, err := NewWorkflowInstance("wf", []TaskDefinition{
		shellTask("A", 2, time.Hour, nil, RunConditionNone),
	}, time.Now())
	require.NoError(t, err)
	wi.Queue()
	wi.Start()

	now := time.Now()
	wi.TaskOutcome("A", Failed, now)

	ti := wi.Dag.TaskInstance("A")
	assert.Equal(t, 1, ti.Retries)
	assert.Equal(t, ExecutionStatus(""), ti.ExecutionStatus)
	assert.False(t, ti.NextEligibleAt.IsZero())

	assert.False(t, wi.Finalize(), "must not finalize while a task is pending retry")

	_, ok := wi.Dag.NextStage()
	assert.False(t, ok, "retry not yet eligible")

	wi.TaskOutcome("A", Failed, now.Add(2*time.Hour))
	assert.Equal(t, 2, ti.Retries)
	wi.TaskOutcome("A", Failed, now.Add(4*time.Hour))
	assert.Equal(t, Failed, ti.ExecutionStatus, "retries exhausted: terminal Failed")

	assert.True(t, wi.Finalize())
	assert.Equal(t, RunStateFailed, wi.RunState)
}

// Queue is idempotent: Failed is requeueable (operator retry), Success/Running/Queued are not.
func TestQueueIdempotency(t *testing.T) {
	cases := []struct {
		state RunState
		want  bool
	}{
		{RunStateNothing, true},
		{RunStateFailed, true},
		{RunStateQueued, false},
		{RunStateRunning, false},
		{RunStateSuccess, false},
	}
	for _, c := range cases {
		wi := &WorkflowInstance{RunState: c.state}
		assert.Equal(t, c.want, wi.Queue(), "state %s", c.state)
	}
}

func TestRunStateActive(t *testing.T) {
	assert.True(t, RunStateQueued.Active())
	assert.True(t, RunStateRunning.Active())
	assert.False(t, RunStateNothing.Active())
	assert.False(t, RunStateSuccess.Active())
	assert.False(t, RunStateFailed.Active())
}

// full-run case: independent branches, one fails and exhausts
// retries while its sibling succeeds; instance still finalizes Failed once
// exhausted (§9 Open Question 3).
func TestWorkflowInstanceIndependentBranchFailure(t *testing.T) {
	wi, err := NewWorkflowInstance("wf", []TaskDefinition{
		shellTask("A", 0, 0, nil, RunConditionNone),
		shellTask("B", 0, 0, nil, RunConditionNone),
	}, time.Now())
	require.NoError(t, err)
	wi.Queue()
	wi.Start()

	stage, ok := wi.Dag.NextStage()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"A", "B"}, ids(stage))

	wi.TaskOutcome("A", Success, time.Now())
	wi.TaskOutcome("B", Failed, time.Now())

	assert.True(t, wi.Finalize())
	assert.Equal(t, RunStateFailed, wi.RunState)
}
