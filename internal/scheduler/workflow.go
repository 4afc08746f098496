package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowty/flowty/internal/domain"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ErrActiveRunCapReached is returned by Workflow.Trigger when max_active_runs
// is already saturated.
var ErrActiveRunCapReached = errors.New("scheduler: active run cap reached")

// InstanceRunner drives one WorkflowInstance forward by one stage (§4.3
// run()). *Dispatcher is the production implementation; tests substitute a
// fake to exercise tick/harvest logic without a live broker or executor.
type InstanceRunner interface {
	Run(ctx context.Context, store Store, inst *domain.WorkflowInstance) error
}

// Workflow is the runtime wrapper around one workflow definition (§3, §4.3):
// its parsed cron schedule, last_tick, and the live collection of
// WorkflowInstances materialised from it.
type Workflow struct {
	mu         sync.Mutex
	definition domain.WorkflowDefinition
	schedule   cron.Schedule
	lastTick   time.Time // zero means unset
	instances  []*domain.WorkflowInstance
	log        *slog.Logger
}

// NewWorkflow parses def's schedule and constructs an empty Workflow.
func NewWorkflow(def domain.WorkflowDefinition, log *slog.Logger) (*Workflow, error) {
	schedule, err := cronParser.Parse(def.Schedule)
	if err != nil {
		return nil, domain.NewParsingError(def.WorkflowID, "invalid cron schedule: "+err.Error())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{definition: def, schedule: schedule, log: log.With("workflow_id", def.WorkflowID)}, nil
}

// Update applies a new definition (§4.3 Workflow.update). A no-op if newDef
// is equal to the current definition. If the schedule string changed, the
// cron expression is reparsed and a warning logged ("changing schedule is
// discouraged"); existing instances keep their own frozen Dag copies and
// are unaffected.
func (w *Workflow) Update(newDef domain.WorkflowDefinition, resetTick bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if reflect.DeepEqual(w.definition, newDef) {
		return nil
	}

	if newDef.Schedule != w.definition.Schedule {
		schedule, err := cronParser.Parse(newDef.Schedule)
		if err != nil {
			return domain.NewParsingError(newDef.WorkflowID, "invalid cron schedule: "+err.Error())
		}
		w.log.Warn("changing schedule is discouraged", "old", w.definition.Schedule, "new", newDef.Schedule)
		w.schedule = schedule
	}

	w.definition = newDef
	if resetTick {
		w.lastTick = time.Time{}
	}
	return nil
}

// Tick drives one iteration of this workflow's lifecycle (§4.3
// Workflow.tick). The first tick on a freshly loaded workflow only sets
// last_tick and returns, never scheduling — invariant 6.
func (w *Workflow) Tick(ctx context.Context, store Store, dispatcher InstanceRunner, now time.Time) error {
	w.mu.Lock()
	if w.lastTick.IsZero() {
		w.lastTick = now
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := w.runInstances(ctx, store, dispatcher); err != nil {
		return err
	}
	if err := w.queueInstances(ctx, store, now); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastTick = now
	w.mu.Unlock()
	return nil
}

// runInstances drives every Queued or Running instance forward one stage
// (§4.3 run_instances).
func (w *Workflow) runInstances(ctx context.Context, store Store, dispatcher InstanceRunner) error {
	w.mu.Lock()
	queued := make([]*domain.WorkflowInstance, 0, len(w.instances))
	for _, inst := range w.instances {
		if inst.RunState == domain.RunStateQueued || inst.RunState == domain.RunStateRunning {
			queued = append(queued, inst)
		}
	}
	w.mu.Unlock()

	for _, inst := range queued {
		if err := dispatcher.Run(ctx, store, inst); err != nil {
			w.log.Error("instance run failed", "wiid", inst.WIID, "error", err)
		}
	}
	return nil
}

// queueInstances materialises due fire times under the active-run cap
// (§4.3 queue_instances, invariant 5).
func (w *Workflow) queueInstances(ctx context.Context, store Store, now time.Time) error {
	w.mu.Lock()
	active := 0
	for _, inst := range w.instances {
		if inst.RunState.Active() {
			active++
		}
	}
	maxActive := int(w.definition.MaxActiveRuns)
	if active >= maxActive {
		w.mu.Unlock()
		return nil
	}
	remaining := maxActive - active
	anchor := w.lastTick
	tasks := w.definition.Tasks
	workflowID := w.definition.WorkflowID
	schedule := w.schedule
	w.mu.Unlock()

	fireTimes := make([]time.Time, 0, remaining)
	t := anchor
	for len(fireTimes) < remaining {
		t = schedule.Next(t)
		if t.After(now) {
			break
		}
		fireTimes = append(fireTimes, t)
	}

	for _, fire := range fireTimes {
		inst, err := domain.NewWorkflowInstance(workflowID, tasks, fire)
		if err != nil {
			w.log.Error("materialise instance failed", "run_date", fire, "error", err)
			continue
		}
		wiid, err := store.InsertInstance(ctx, workflowID, fire)
		if err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		inst.SetWIID(wiid)
		inst.Queue()
		if err := store.UpdateInstanceState(ctx, wiid, inst.RunState); err != nil {
			w.log.Error("persist queued state failed", "wiid", wiid, "error", err)
		}

		w.mu.Lock()
		w.instances = append(w.instances, inst)
		w.mu.Unlock()
	}
	return nil
}

// Trigger materialises and queues one instance immediately, ignoring the
// cron schedule — the manual "run now" operation behind flowtyctl run.
// The active-run cap (invariant 5) still applies: Trigger returns
// ErrActiveRunCapReached if the workflow is already at max_active_runs.
func (w *Workflow) Trigger(ctx context.Context, store Store, now time.Time) (*domain.WorkflowInstance, error) {
	w.mu.Lock()
	active := 0
	for _, inst := range w.instances {
		if inst.RunState.Active() {
			active++
		}
	}
	if active >= int(w.definition.MaxActiveRuns) {
		w.mu.Unlock()
		return nil, ErrActiveRunCapReached
	}
	tasks := w.definition.Tasks
	workflowID := w.definition.WorkflowID
	w.mu.Unlock()

	inst, err := domain.NewWorkflowInstance(workflowID, tasks, now)
	if err != nil {
		return nil, err
	}
	wiid, err := store.InsertInstance(ctx, workflowID, now)
	if err != nil {
		return nil, fmt.Errorf("insert instance: %w", err)
	}
	inst.SetWIID(wiid)
	inst.Queue()
	if err := store.UpdateInstanceState(ctx, wiid, inst.RunState); err != nil {
		return nil, fmt.Errorf("persist queued state: %w", err)
	}

	w.mu.Lock()
	w.instances = append(w.instances, inst)
	w.mu.Unlock()
	return inst, nil
}

// LastTick returns the workflow's last_tick, for tests (invariant 7).
func (w *Workflow) LastTick() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTick
}

// Instances returns a snapshot of the live instance list, for tests and the
// admin API.
func (w *Workflow) Instances() []*domain.WorkflowInstance {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*domain.WorkflowInstance, len(w.instances))
	copy(out, w.instances)
	return out
}
