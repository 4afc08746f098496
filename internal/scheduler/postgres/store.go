// Package postgres implements scheduler.Store against the relational
// schema of §6, using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/scheduler"
)

const harvestQuery = `
WITH latest AS (SELECT MAX(wid) AS wid, workflow_id FROM workflow GROUP BY workflow_id)
SELECT workflow.workflow_id, workflow.openworkflow_message
FROM workflow JOIN latest ON workflow.wid = latest.wid;
`

const insertWorkflowQuery = `INSERT INTO workflow (workflow_id, openworkflow_message) VALUES ($1, $2);`

const insertInstanceQuery = `INSERT INTO workflow_instance (workflow_id, run_date) VALUES ($1, $2) RETURNING wiid;`

const updateInstanceStateQuery = `UPDATE workflow_instance SET run_state = $2, modified_at = now() WHERE wiid = $1;`

// Store is the postgres-backed scheduler.Store implementation.
type Store struct {
	db *sql.DB
}

// Open connects to psqlURL and verifies reachability with a ping — the only
// fatal startup error per §7's propagation policy.
func Open(ctx context.Context, psqlURL string) (*Store, error) {
	db, err := sql.Open("postgres", psqlURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// HarvestLatestWorkflows runs the literal §6 harvest query. A row whose
// payload fails to decode is logged and omitted from the result (§4.3
// step 1: on decode failure, log and skip).
func (s *Store) HarvestLatestWorkflows(ctx context.Context) ([]scheduler.WorkflowRow, error) {
	rows, err := s.db.QueryContext(ctx, harvestQuery)
	if err != nil {
		return nil, fmt.Errorf("harvest query: %w", err)
	}
	defer rows.Close()

	var out []scheduler.WorkflowRow
	for rows.Next() {
		var workflowID string
		var payload []byte
		if err := rows.Scan(&workflowID, &payload); err != nil {
			return nil, fmt.Errorf("scan harvest row: %w", err)
		}
		var def domain.WorkflowDefinition
		if err := json.Unmarshal(payload, &def); err != nil {
			slog.Warn("skipping workflow with undecodable payload", "workflow_id", workflowID, "error", err)
			continue // ParsingError policy: skip, don't abort the harvest
		}
		out = append(out, scheduler.WorkflowRow{WorkflowID: workflowID, Definition: def})
	}
	return out, rows.Err()
}

// PutWorkflow appends a new version row for def.WorkflowID — the harvest
// query's `latest` CTE always resolves to the most recently inserted wid.
func (s *Store) PutWorkflow(ctx context.Context, def domain.WorkflowDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertWorkflowQuery, def.WorkflowID, payload)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// InsertInstance runs the literal §6 insert, returning the assigned wiid.
func (s *Store) InsertInstance(ctx context.Context, workflowID string, runDate time.Time) (int64, error) {
	var wiid int64
	err := s.db.QueryRowContext(ctx, insertInstanceQuery, workflowID, runDate).Scan(&wiid)
	if err != nil {
		return 0, fmt.Errorf("insert instance: %w", err)
	}
	return wiid, nil
}

// UpdateInstanceState runs the literal §6 state update.
func (s *Store) UpdateInstanceState(ctx context.Context, wiid int64, state domain.RunState) error {
	_, err := s.db.ExecContext(ctx, updateInstanceStateQuery, wiid, string(state))
	if err != nil {
		return fmt.Errorf("update instance state: %w", err)
	}
	return nil
}
