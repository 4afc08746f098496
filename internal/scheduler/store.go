// Package scheduler implements the tick loop, the Workflow runtime wrapper,
// and the WorkflowInstance dispatch logic of §4.3.
package scheduler

import (
	"context"
	"time"

	"github.com/flowty/flowty/internal/domain"
)

// WorkflowRow is one decoded row from the harvest query (§6): the latest
// persisted version of a workflow.
type WorkflowRow struct {
	WorkflowID string
	Definition domain.WorkflowDefinition
}

// InstanceRow is a persisted WorkflowInstance projection. No Store method
// returns it, and in-flight instances are not restored across scheduler
// restarts.
type InstanceRow struct {
	WIID       int64
	WorkflowID string
	RunDate    time.Time
	RunState   domain.RunState
}

// Store is the persistence contract the scheduler requires (§6's relational
// schema, abstracted so postgres.Store and boltstore.Store can both satisfy
// it). Every method's error is the transport error from the underlying
// driver; decode failures are not errors: HarvestLatestWorkflows logs and
// skips rows whose payload does not decode rather than failing the whole
// tick, per §4.3 step 1 and the ParsingError policy in §7.
type Store interface {
	// HarvestLatestWorkflows returns the latest version of every workflow,
	// per the `latest` CTE in §6.
	HarvestLatestWorkflows(ctx context.Context) ([]WorkflowRow, error)

	// PutWorkflow persists a new version of a workflow definition — an
	// append-only insert against postgres, an upsert against boltstore's
	// single-version-per-id bucket. Used by the scheduler's admin API and
	// by flowtyctl submit.
	PutWorkflow(ctx context.Context, def domain.WorkflowDefinition) error

	// InsertInstance persists a new WorkflowInstance row and returns its
	// store-assigned wiid.
	InsertInstance(ctx context.Context, workflowID string, runDate time.Time) (int64, error)

	// UpdateInstanceState persists a RunState transition for an existing
	// instance.
	UpdateInstanceState(ctx context.Context, wiid int64, state domain.RunState) error
}
