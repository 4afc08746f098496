package executor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowty/flowty/internal/transport"
	"github.com/flowty/flowty/libs/go/core/resilience"
)

// Server exposes a Local executor over HTTP, streaming NDJSON (§2, §4.4).
type Server struct {
	local Local
	log   *slog.Logger
	admit *resilience.RateLimiter
}

// NewServer builds a Server. Incoming execute requests are admitted through
// a token-bucket-plus-sliding-window RateLimiter (bursts of up to 10, 5 per
// second sustained, at most 20 per one-second window) — a crude stand-in
// for the ExecutorDefinition capability limits §4.3 assumes but doesn't
// size numerically. It limits the request rate only; the number of tasks
// running at once is not bounded.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:   log,
		admit: resilience.NewRateLimiter(10, 5, time.Second, 20),
	}
}

// Handler builds the mux for the executor's single RPC.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/executor/execute", s.handleExecute)
	return mux
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.admit.Allow() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	var task transport.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.log.Error("response writer does not support flushing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	s.log.Info("executing task", "workflow_id", task.WorkflowID, "task_id", task.TaskID)
	for msg := range s.local.Execute(r.Context(), task) {
		if err := transport.WriteExecutionOutput(w, flusher, msg); err != nil {
			s.log.Warn("failed writing execution output", "error", err)
			return
		}
	}
}
