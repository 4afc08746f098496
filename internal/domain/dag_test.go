package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localTask(id string, downstream []string, cond RunCondition) TaskDefinition {
	return TaskDefinition{
		TaskID:          id,
		Condition:       cond,
		DownstreamTasks: downstream,
		Execution: Execution{
			Definition: ExecutorDefinition{Kind: ExecutorKindLocal},
			Exec:       Exec{ShellCommand: "true"},
		},
	}
}

func markDone(dag *Dag, taskID string, status ExecutionStatus) {
	dag.TaskInstance(taskID).ExecutionStatus = status
}

// scenario (a): linear chain A -> B -> C, all None.
func TestStageLinearChain(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"B"}, RunConditionNone),
		localTask("B", []string{"C"}, RunConditionNone),
		localTask("C", nil, RunConditionNone),
	})
	require.NoError(t, err)

	stage, ok := dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, ids(stage))

	markDone(dag, "A", Success)
	stage, ok = dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, []string{"B"}, ids(stage))

	markDone(dag, "B", Success)
	stage, ok = dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, []string{"C"}, ids(stage))

	markDone(dag, "C", Success)
	_, ok = dag.NextStage()
	assert.False(t, ok)
}

// scenario (b): diamond with AllSuccess join.
func TestStageDiamondAllSuccess(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"B", "C"}, RunConditionNone),
		localTask("B", []string{"D"}, RunConditionNone),
		localTask("C", []string{"D"}, RunConditionNone),
		localTask("D", nil, RunConditionAllSuccess),
	})
	require.NoError(t, err)

	stage, ok := dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, ids(stage))

	markDone(dag, "A", Success)
	stage, ok = dag.NextStage()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"B", "C"}, ids(stage))

	markDone(dag, "B", Success)
	dag.TaskInstance("C").ExecutionStatus = Running
	stage, ok = dag.NextStage()
	assert.False(t, ok)
	assert.Empty(t, stage)

	markDone(dag, "C", Success)
	stage, ok = dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, []string{"D"}, ids(stage))
}

// scenario (c): failure propagation under AllSuccess.
func TestStageFailurePropagation(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"B", "C"}, RunConditionNone),
		localTask("B", []string{"D"}, RunConditionNone),
		localTask("C", []string{"D"}, RunConditionNone),
		localTask("D", nil, RunConditionAllSuccess),
	})
	require.NoError(t, err)

	markDone(dag, "A", Success)
	markDone(dag, "B", Failed)
	markDone(dag, "C", Success)

	stage, ok := dag.NextStage()
	assert.False(t, ok)
	assert.Empty(t, stage)
	assert.True(t, dag.HasFailedExhausted())
}

// scenario (d): OneSuccess short-circuit.
func TestStageOneSuccessShortCircuit(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"C"}, RunConditionNone),
		localTask("B", []string{"C"}, RunConditionNone),
		localTask("C", nil, RunConditionOneSuccess),
	})
	require.NoError(t, err)

	markDone(dag, "A", Success)
	dag.TaskInstance("B").ExecutionStatus = Running

	stage, ok := dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, []string{"C"}, ids(stage))
}

// scenario (e): cycle rejected.
func TestCycleRejected(t *testing.T) {
	_, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"B"}, RunConditionNone),
		localTask("B", []string{"A"}, RunConditionNone),
	})
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ErrCyclicDependency, derr.Kind)
}

// invariant: every task must carry a non-empty execution descriptor.
func TestMissingExecutionRejected(t *testing.T) {
	_, err := BuildDag("wf", []TaskDefinition{
		{TaskID: "A"},
	})
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ErrParsing, derr.Kind)
}

// invariant: unresolved downstream references are silently ignored.
func TestUnresolvedDownstreamIgnored(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"ghost"}, RunConditionNone),
	})
	require.NoError(t, err)
	stage, ok := dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, ids(stage))
}

// invariant 2: first stage is exactly the set of graph sources.
func TestFirstStageIsRoots(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"C"}, RunConditionNone),
		localTask("B", []string{"C"}, RunConditionNone),
		localTask("C", nil, RunConditionAllDone),
	})
	require.NoError(t, err)
	stage, ok := dag.NextStage()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"A", "B"}, ids(stage))
}

// invariant 8: successive stages are pairwise disjoint.
func TestStageDisjointness(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"B"}, RunConditionNone),
		localTask("B", []string{"C"}, RunConditionNone),
		localTask("C", nil, RunConditionNone),
	})
	require.NoError(t, err)

	seen := map[string]bool{}
	for {
		stage, ok := dag.NextStage()
		if !ok {
			break
		}
		for _, ti := range stage {
			require.False(t, seen[ti.TaskID], "task %s reappeared in a later stage", ti.TaskID)
			seen[ti.TaskID] = true
			ti.ExecutionStatus = Success
		}
	}
	assert.Len(t, seen, 3)
}

// invariant 9: termination for an acyclic DAG whose tasks all eventually
// reach a terminal status.
func TestTermination(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		localTask("A", []string{"B", "C"}, RunConditionNone),
		localTask("B", []string{"D"}, RunConditionNone),
		localTask("C", []string{"D"}, RunConditionNone),
		localTask("D", nil, RunConditionAllDone),
	})
	require.NoError(t, err)

	ticks := 0
	for {
		stage, ok := dag.NextStage()
		if !ok {
			break
		}
		for _, ti := range stage {
			ti.ExecutionStatus = Success
		}
		ticks++
		require.Less(t, ticks, 10, "did not terminate")
	}
	assert.True(t, dag.Exhausted())
}

// retry backoff: a retry-eligible failure must not re-enter the stage
// before retry_interval has elapsed (§9 Open Question 2: minimum delay).
func TestRetryBackoffMinimumDelay(t *testing.T) {
	dag, err := BuildDag("wf", []TaskDefinition{
		{
			TaskID:        "A",
			Retries:       1,
			RetryInterval: 50 * time.Millisecond,
			Execution: Execution{
				Definition: ExecutorDefinition{Kind: ExecutorKindLocal},
				Exec:       Exec{ShellCommand: "false"},
			},
		},
	})
	require.NoError(t, err)

	stage, ok := dag.NextStage()
	require.True(t, ok)
	require.Len(t, stage, 1)

	ti := stage[0]
	ti.Retries++
	ti.ExecutionStatus = ""
	ti.NextEligibleAt = nowFunc().Add(ti.RetryInterval)

	_, ok = dag.NextStage()
	assert.False(t, ok, "task should not be eligible before retry_interval elapses")

	original := nowFunc
	nowFunc = func() time.Time { return original().Add(time.Second) }
	defer func() { nowFunc = original }()

	stage, ok = dag.NextStage()
	require.True(t, ok)
	assert.Equal(t, "A", stage[0].TaskID)
}

func ids(stage []*TaskInstance) []string {
	out := make([]string, len(stage))
	for i, ti := range stage {
		out[i] = ti.TaskID
	}
	return out
}
