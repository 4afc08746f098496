package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/transport"
)

// BrokerClient is the subset of broker.Client's surface the Dispatcher
// needs, factored out so tests can substitute a fake instead of talking to
// a real execution broker over HTTP.
type BrokerClient interface {
	FindExecutor(ctx context.Context, workflow, task string, def domain.ExecutorDefinition, blockList []string) (string, error)
}

// Dispatcher drives one WorkflowInstance.run() (§4.3 step 1-4): pulling the
// next stage from its Dag, resolving an executor per task via the broker,
// and streaming ExecuteTask to completion.
type Dispatcher struct {
	broker      BrokerClient
	http        *http.Client
	rpcDeadline time.Duration
	log         *slog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(brokerClient BrokerClient, rpcDeadline time.Duration, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		broker:      brokerClient,
		http:        &http.Client{Timeout: rpcDeadline},
		rpcDeadline: rpcDeadline,
		log:         log,
	}
}

// Run advances inst by exactly one stage (§4.3 run()). If inst is Queued,
// it is first transitioned to Running. Dispatch across the stage's tasks
// proceeds concurrently (§5); the errgroup's "first error cancels all"
// semantics are deliberately not used (§9 Open Question 3 — unrelated
// branches are allowed to complete), so every task's outcome is recorded
// before the instance's next transition is decided.
func (d *Dispatcher) Run(ctx context.Context, store Store, inst *domain.WorkflowInstance) error {
	inst.Start()

	stage, ok := inst.Dag.NextStage()
	if !ok {
		if inst.Finalize() {
			return store.UpdateInstanceState(ctx, inst.WIID, inst.RunState)
		}
		return nil
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, ti := range stage {
		ti := ti
		ti.ExecutionStatus = domain.Initializing
		group.Go(func() error {
			d.dispatchTask(gctx, inst, ti)
			return nil
		})
	}
	_ = group.Wait()

	if inst.Dag.Exhausted() {
		if inst.Finalize() {
			return store.UpdateInstanceState(ctx, inst.WIID, inst.RunState)
		}
	}
	return nil
}

// dispatchTask resolves and calls one task's executor, then applies its
// outcome to inst via TaskOutcome (§4.3 steps 2-4).
func (d *Dispatcher) dispatchTask(ctx context.Context, inst *domain.WorkflowInstance, ti *domain.TaskInstance) {
	workflowID, taskID := inst.WorkflowID, ti.TaskID

	def := ti.ExecutionDetails.Definition
	if ti.ExecutionDetails.IsZero() {
		derr := domain.NewIncompleteTaskDefinitionError(workflowID, taskID, "task has no execution descriptor")
		d.log.Error(derr.Error())
		inst.TaskOutcome(taskID, domain.Failed, time.Now())
		return
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.rpcDeadline)
	uri, err := d.broker.FindExecutor(rpcCtx, workflowID, taskID, def, ti.TriedExecutors)
	cancel()
	if err != nil {
		derr := domain.NewExecutionBrokerUnreachableError(workflowID, taskID, err)
		d.log.Warn(derr.Error(), "error", err)
		// Reset so NextStage() re-offers this task at the next tick instead
		// of treating it as permanently dispatched (§7 policy, §8 invariant 9).
		ti.ExecutionStatus = ""
		return
	}
	if uri == "" {
		derr := domain.NewExecutorNotFoundError(workflowID, taskID)
		d.log.Error(derr.Error())
		inst.TaskOutcome(taskID, domain.Failed, time.Now())
		return
	}

	task := transport.Task{WorkflowID: workflowID, TaskID: taskID, Execution: ti.ExecutionDetails}
	streamCtx, cancelStream := context.WithTimeout(ctx, d.rpcDeadline)
	defer cancelStream()

	stream, err := transport.StreamExecuteTask(streamCtx, d.http, uri, task)
	if err != nil {
		derr := domain.NewExecutionBrokerUnreachableError(workflowID, taskID, err)
		d.log.Warn("executor stream failed to open", "uri", uri, "error", derr)
		ti.TriedExecutors = append(ti.TriedExecutors, uri)
		// Reset so NextStage() re-offers this task (against a different
		// executor, thanks to the block-list append above) rather than
		// leaving it wedged at Initializing forever.
		ti.ExecutionStatus = ""
		return
	}

	var terminal domain.ExecutionStatus
	for msg := range stream {
		ti.ExecutionStatus = msg.Status
		d.log.Info("task output", "workflow_id", workflowID, "task_id", taskID, "status", msg.Status, "message", msg.Message)
		if msg.Status.IsDone() {
			terminal = msg.Status
		}
	}

	if terminal == "" {
		// Stream closed without a terminal message: transport-level failure,
		// retry-eligible per §4.4.
		terminal = domain.Failed
	}
	if terminal == domain.Failed {
		derr := domain.NewExecutionError(workflowID, taskID, "executor reported a non-success terminal status")
		d.log.Warn(derr.Error())
	}
	ti.TriedExecutors = append(ti.TriedExecutors, uri)
	inst.TaskOutcome(taskID, terminal, time.Now())
}
