package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler holds the in-memory workflow_id -> Workflow bundle and drives
// the tick loop (§4.3 Scheduler.run).
type Scheduler struct {
	mu           sync.Mutex
	workflows    map[string]*Workflow
	store        Store
	dispatcher   InstanceRunner
	loopInterval time.Duration
	log          *slog.Logger
}

// New builds a Scheduler.
func New(store Store, dispatcher InstanceRunner, loopInterval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if loopInterval <= 0 {
		loopInterval = 30 * time.Second
	}
	return &Scheduler{
		workflows:    make(map[string]*Workflow),
		store:        store,
		dispatcher:   dispatcher,
		loopInterval: loopInterval,
		log:          log,
	}
}

// Run is the infinite tick loop: harvest, process, sleep (§4.3).
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		if err := s.tick(ctx); err != nil {
			s.log.Error("tick failed", "error", err)
		}
		elapsed := time.Since(start)

		sleep := s.loopInterval - elapsed
		if sleep < 0 {
			s.log.Warn("tick exceeded loop interval", "elapsed", elapsed, "loop_interval", s.loopInterval)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// tick runs exactly one harvest + process pass (§4.3 steps 1-2).
func (s *Scheduler) tick(ctx context.Context) error {
	now := time.Now()

	if err := s.harvest(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	workflows := make([]*Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		workflows = append(workflows, wf)
	}
	s.mu.Unlock()

	for _, wf := range workflows {
		if err := wf.Tick(ctx, s.store, s.dispatcher, now); err != nil {
			s.log.Error("workflow tick failed", "error", err)
		}
	}
	return nil
}

// harvest loads the latest version of every workflow from the store,
// inserting or updating the in-memory Workflow bundle (§4.3 step 1). A
// workflow whose definition fails to parse is logged and skipped, never
// aborting the whole harvest.
func (s *Scheduler) harvest(ctx context.Context) error {
	rows, err := s.store.HarvestLatestWorkflows(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		s.mu.Lock()
		existing, ok := s.workflows[row.WorkflowID]
		s.mu.Unlock()

		if ok {
			if err := existing.Update(row.Definition, false); err != nil {
				s.log.Error("workflow update rejected", "workflow_id", row.WorkflowID, "error", err)
			}
			continue
		}

		wf, err := NewWorkflow(row.Definition, s.log)
		if err != nil {
			s.log.Error("workflow harvest decode failed", "workflow_id", row.WorkflowID, "error", err)
			continue
		}
		s.mu.Lock()
		s.workflows[row.WorkflowID] = wf
		s.mu.Unlock()
	}
	return nil
}

// Workflow returns the in-memory Workflow for id, if loaded, for tests and
// the admin API.
func (s *Scheduler) Workflow(id string) (*Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	return wf, ok
}
