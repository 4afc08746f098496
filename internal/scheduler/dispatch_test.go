package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/transport"
)

// fakeBroker is a BrokerClient test double: each call records the block
// list it was offered and returns the next entry from results/errs.
type fakeBroker struct {
	results    []string
	errs       []error
	calls      int
	blockLists [][]string
}

func (b *fakeBroker) FindExecutor(ctx context.Context, workflow, task string, def domain.ExecutorDefinition, blockList []string) (string, error) {
	i := b.calls
	b.calls++
	b.blockLists = append(b.blockLists, append([]string(nil), blockList...))
	if i < len(b.errs) && b.errs[i] != nil {
		return "", b.errs[i]
	}
	if i < len(b.results) {
		return b.results[i], nil
	}
	return "", nil
}

func newDispatcher(broker BrokerClient) *Dispatcher {
	return NewDispatcher(broker, time.Second, nil)
}

func taskDefWithRetries(retries int, interval time.Duration) domain.WorkflowDefinition {
	def := testDefinition("wf", "* * * * * *", 1)
	def.Tasks[0].Retries = retries
	def.Tasks[0].RetryInterval = interval
	return def
}

func newInstance(t *testing.T, def domain.WorkflowDefinition) *domain.WorkflowInstance {
	t.Helper()
	inst, err := domain.NewWorkflowInstance(def.WorkflowID, def.Tasks, time.Now())
	require.NoError(t, err)
	inst.SetWIID(1)
	require.True(t, inst.Queue())
	require.True(t, inst.Start())
	return inst
}

// Broker RPC failure must not permanently wedge the task at Initializing —
// it must be re-offered by NextStage() on the following tick.
func TestDispatchTaskBrokerUnreachableResetsStatus(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))
	ti := inst.Dag.TaskInstance("A")
	ti.ExecutionStatus = domain.Initializing

	broker := &fakeBroker{errs: []error{errors.New("dial tcp: connection refused")}}
	d := newDispatcher(broker)

	d.dispatchTask(context.Background(), inst, ti)

	assert.Equal(t, domain.ExecutionStatus(""), ti.ExecutionStatus)
	assert.False(t, inst.Dag.Exhausted())
	stage, ok := inst.Dag.NextStage()
	require.True(t, ok)
	require.Len(t, stage, 1)
	assert.Equal(t, "A", stage[0].TaskID)
}

// A stream that fails to open (executor URI resolved but unreachable) must
// also reset the task rather than leave it wedged, and must block-list the
// failing URI for the next attempt.
func TestDispatchTaskStreamOpenFailureResetsStatus(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))
	ti := inst.Dag.TaskInstance("A")
	ti.ExecutionStatus = domain.Initializing

	broker := &fakeBroker{results: []string{"http://127.0.0.1:1"}}
	d := newDispatcher(broker)

	d.dispatchTask(context.Background(), inst, ti)

	assert.Equal(t, domain.ExecutionStatus(""), ti.ExecutionStatus)
	assert.Equal(t, []string{"http://127.0.0.1:1"}, ti.TriedExecutors)
	assert.False(t, inst.Dag.Exhausted())
}

// The fixed bug, end to end: a transient broker failure at Run() must not
// cause the instance to be falsely finalized as Success.
func TestRunDoesNotFalselyFinalizeOnBrokerFailure(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))
	broker := &fakeBroker{errs: []error{errors.New("broker unreachable")}}
	d := newDispatcher(broker)
	store := newFakeStore()

	require.NoError(t, d.Run(context.Background(), store, inst))

	assert.Equal(t, domain.RunStateRunning, inst.RunState)
	assert.Zero(t, store.updates)
}

// Once the broker recovers on a later tick, the reset task is re-dispatched
// and the instance finalizes normally.
func TestRunRecoversAfterTransientBrokerFailure(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_ = transport.WriteExecutionOutput(w, flusher, transport.ExecutionOutput{Status: domain.Initializing})
		_ = transport.WriteExecutionOutput(w, flusher, transport.ExecutionOutput{Status: domain.Success, Message: "0"})
	}))
	defer srv.Close()

	broker := &fakeBroker{errs: []error{errors.New("broker unreachable"), nil}, results: []string{"", srv.URL}}
	d := newDispatcher(broker)
	store := newFakeStore()

	require.NoError(t, d.Run(context.Background(), store, inst))
	assert.Equal(t, domain.RunStateRunning, inst.RunState)

	require.NoError(t, d.Run(context.Background(), store, inst))
	assert.Equal(t, domain.RunStateSuccess, inst.RunState)
	assert.Equal(t, 1, store.updates)
}

// No matching executor is a real terminal failure, not a transient one: the
// task instance is marked Failed outright (no retries configured).
func TestDispatchTaskNoMatchingExecutorFails(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))
	ti := inst.Dag.TaskInstance("A")
	ti.ExecutionStatus = domain.Initializing

	broker := &fakeBroker{results: []string{""}}
	d := newDispatcher(broker)

	d.dispatchTask(context.Background(), inst, ti)

	assert.Equal(t, domain.Failed, ti.ExecutionStatus)
}

// A task instance with no execution descriptor fails immediately without
// ever calling the broker. (BuildDag itself rejects a zero Execution at
// construction time, so the descriptor is cleared afterward to exercise
// dispatchTask's own defensive check.)
func TestDispatchTaskMissingExecutionDescriptorFails(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))
	ti := inst.Dag.TaskInstance("A")
	ti.ExecutionDetails = domain.Execution{}
	ti.ExecutionStatus = domain.Initializing

	broker := &fakeBroker{}
	d := newDispatcher(broker)
	d.dispatchTask(context.Background(), inst, ti)

	assert.Equal(t, domain.Failed, ti.ExecutionStatus)
	assert.Zero(t, broker.calls)
}

// A retry-eligible failure (retries remain) resets the task to unset status
// and defers it via NextEligibleAt rather than marking it Failed outright,
// and the failing executor is carried forward as a block_list entry.
func TestDispatchTaskRetryBlockListsFailingExecutor(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(1, time.Minute))
	ti := inst.Dag.TaskInstance("A")
	ti.ExecutionStatus = domain.Initializing

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_ = transport.WriteExecutionOutput(w, flusher, transport.ExecutionOutput{Status: domain.Failed, Message: "1"})
	}))
	defer srv.Close()

	broker := &fakeBroker{results: []string{srv.URL}}
	d := newDispatcher(broker)

	d.dispatchTask(context.Background(), inst, ti)

	assert.Equal(t, domain.ExecutionStatus(""), ti.ExecutionStatus)
	assert.Equal(t, 1, ti.Retries)
	assert.False(t, ti.NextEligibleAt.IsZero())
	assert.Equal(t, []string{srv.URL}, ti.TriedExecutors)

	d.dispatchTask(context.Background(), inst, ti)
	require.Len(t, broker.blockLists, 2)
	assert.Equal(t, []string{srv.URL}, broker.blockLists[1])
}

// A successful executor stream appends the winning URI to TriedExecutors
// and leaves the task Success.
func TestDispatchTaskSuccess(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))
	ti := inst.Dag.TaskInstance("A")
	ti.ExecutionStatus = domain.Initializing

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var task transport.Task
		require.NoError(t, json.NewDecoder(r.Body).Decode(&task))
		assert.Equal(t, "A", task.TaskID)

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_ = transport.WriteExecutionOutput(w, flusher, transport.ExecutionOutput{Status: domain.Initializing})
		_ = transport.WriteExecutionOutput(w, flusher, transport.ExecutionOutput{Status: domain.Running, Message: "line one"})
		_ = transport.WriteExecutionOutput(w, flusher, transport.ExecutionOutput{Status: domain.Success, Message: "0"})
	}))
	defer srv.Close()

	broker := &fakeBroker{results: []string{srv.URL}}
	d := newDispatcher(broker)

	d.dispatchTask(context.Background(), inst, ti)

	assert.Equal(t, domain.Success, ti.ExecutionStatus)
	assert.Equal(t, []string{srv.URL}, ti.TriedExecutors)
}

// A stream that closes without ever sending a terminal message is treated
// as a transport-level Failed outcome (§4.4).
func TestDispatchTaskStreamClosesWithoutTerminal(t *testing.T) {
	inst := newInstance(t, taskDefWithRetries(0, 0))
	ti := inst.Dag.TaskInstance("A")
	ti.ExecutionStatus = domain.Initializing

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_ = transport.WriteExecutionOutput(w, flusher, transport.ExecutionOutput{Status: domain.Running})
	}))
	defer srv.Close()

	broker := &fakeBroker{results: []string{srv.URL}}
	d := newDispatcher(broker)

	d.dispatchTask(context.Background(), inst, ti)

	assert.Equal(t, domain.Failed, ti.ExecutionStatus)
}
