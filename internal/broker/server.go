package broker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowty/flowty/internal/transport"
	"github.com/flowty/flowty/libs/go/core/resilience"
)

// Server exposes a Registry over HTTP+JSON, grounded in the teacher's plain
// net/http.ServeMux handler style (no grpc-gateway/connect pulled in for
// three small request/response RPCs).
type Server struct {
	registry    *Registry
	log         *slog.Logger
	registerRPS *resilience.HybridRateLimiter
}

// NewServer wraps registry in an HTTP handler. Registration is the one RPC a
// misbehaving executor fleet could hammer (e.g. a crashloop re-registering
// on every restart), so it's the one bounded by a HybridRateLimiter — burst
// tolerant up to 50 requests, smoothed to 20/s beyond that.
func NewServer(registry *Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		registry:    registry,
		log:         log,
		registerRPS: resilience.NewHybridRateLimiter(50, 20, 0, 50*time.Millisecond),
	}
}

// Close stops the background workers owned by the server's rate limiter.
func (s *Server) Close() {
	s.registerRPS.Stop()
}

// Handler builds the mux for the broker's RPC surface (§6).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/broker/register", s.handleRegister)
	mux.HandleFunc("/v1/broker/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/v1/broker/find", s.handleFind)
	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.registerRPS.Allow(r.Context()) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	var req transport.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	id := s.registry.RegisterExecutor(req.URI, req.ExecutorDefinition)
	s.log.Info("executor registered", "uri", req.URI, "unique_id", id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(transport.RegistrationReply{UniqueID: id})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req transport.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	echo, ok := s.registry.HeartBeat(req.UniqueID)
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(transport.Heartbeat{})
		return
	}
	_ = json.NewEncoder(w).Encode(transport.Heartbeat{UniqueID: echo})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req transport.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	uri := s.registry.FindExecutor(req.ExecutorDefinition, req.BlockList)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(transport.SearchReply{URI: uri})
}
