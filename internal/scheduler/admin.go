package scheduler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowty/flowty/internal/domain"
)

// AdminServer exposes workflow CRUD and run control over HTTP+JSON,
// grounded in the teacher's orchestrator /v1/workflows and /v1/run handlers
// (services/orchestrator/main.go) — submissions land in the same Store the
// tick loop harvests from, so a submitted definition is picked up on the
// scheduler's next harvest (§4.3 step 1), not applied synchronously.
type AdminServer struct {
	store     Store
	scheduler *Scheduler
	log       *slog.Logger
}

// NewAdminServer builds an AdminServer over store and scheduler's in-memory
// Workflow state (needed for /run and /instances, which read and write the
// live instance list rather than the store alone).
func NewAdminServer(store Store, scheduler *Scheduler, log *slog.Logger) *AdminServer {
	if log == nil {
		log = slog.Default()
	}
	return &AdminServer{store: store, scheduler: scheduler, log: log}
}

// Handler builds the mux for the scheduler's admin surface.
func (a *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/workflows", a.handleWorkflows)
	mux.HandleFunc("/v1/workflows/", a.handleWorkflowSubpaths)
	return mux
}

func (a *AdminServer) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var def domain.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if def.WorkflowID == "" {
		http.Error(w, "workflow_id required", http.StatusBadRequest)
		return
	}
	if err := a.store.PutWorkflow(r.Context(), def); err != nil {
		a.log.Error("submit workflow failed", "workflow_id", def.WorkflowID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.log.Info("workflow submitted", "workflow_id", def.WorkflowID)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(def)
}

// handleWorkflowSubpaths dispatches /v1/workflows/{id}/run and
// /v1/workflows/{id}/instances — kept off the stdlib ServeMux's pattern
// matching (no method+wildcard routing before Go 1.22's enhanced mux was
// available in the teacher's codebase) by trimming the path manually, the
// same style as the teacher's own /v1/run handler.
func (a *AdminServer) handleWorkflowSubpaths(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/workflows/")
	switch {
	case strings.HasSuffix(rest, "/run"):
		a.handleRun(w, r, strings.TrimSuffix(rest, "/run"))
	case strings.HasSuffix(rest, "/instances"):
		a.handleInstances(w, r, strings.TrimSuffix(rest, "/instances"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *AdminServer) handleRun(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wf, ok := a.scheduler.Workflow(workflowID)
	if !ok {
		http.Error(w, "workflow not loaded", http.StatusNotFound)
		return
	}
	inst, err := wf.Trigger(r.Context(), a.store, time.Now())
	if err != nil {
		if err == ErrActiveRunCapReached {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		a.log.Error("trigger failed", "workflow_id", workflowID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(instanceSummary(inst))
}

func (a *AdminServer) handleInstances(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wf, ok := a.scheduler.Workflow(workflowID)
	if !ok {
		http.Error(w, "workflow not loaded", http.StatusNotFound)
		return
	}
	summaries := make([]instanceStatus, 0)
	for _, inst := range wf.Instances() {
		summaries = append(summaries, instanceSummary(inst))
	}
	_ = json.NewEncoder(w).Encode(summaries)
}

// instanceStatus is the flattened, JSON-friendly projection of a
// WorkflowInstance used by flowtyctl status/tail.
type instanceStatus struct {
	WIID       int64           `json:"wiid"`
	WorkflowID string          `json:"workflow_id"`
	RunState   domain.RunState `json:"run_state"`
	RunDate    time.Time       `json:"run_date"`
	Tasks      []taskStatus    `json:"tasks"`
}

type taskStatus struct {
	TaskID string                 `json:"task_id"`
	Status domain.ExecutionStatus `json:"status"`
}

func instanceSummary(inst *domain.WorkflowInstance) instanceStatus {
	tasks := inst.Dag.AllTaskInstances()
	out := instanceStatus{
		WIID:       inst.WIID,
		WorkflowID: inst.WorkflowID,
		RunState:   inst.RunState,
		RunDate:    inst.RunDate,
		Tasks:      make([]taskStatus, 0, len(tasks)),
	}
	for _, ti := range tasks {
		out.Tasks = append(out.Tasks, taskStatus{TaskID: ti.TaskID, Status: ti.ExecutionStatus})
	}
	return out
}
