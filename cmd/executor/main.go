// Command executor runs a flowty local executor: it registers itself with
// the execution broker, sends periodic heartbeats, and serves ExecuteTask
// over NDJSON (§2, §4.4, §6).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flowty/flowty/internal/broker"
	"github.com/flowty/flowty/internal/config"
	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/executor"
	"github.com/flowty/flowty/libs/go/core/logging"
	"github.com/flowty/flowty/libs/go/core/otelinit"
)

func main() {
	service := "executor"
	logging.Init(service)
	cfg := config.FromEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _, _ := otelinit.InitMetrics(ctx, service)

	addr := executorAddr()
	selfURI := selfURI(addr)
	def := capabilities()

	srv := executor.NewServer(slog.Default())
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("executor server error", "error", err)
			cancel()
		}
	}()
	slog.Info("executor started", "addr", addr, "uri", selfURI)

	client := broker.NewClient(cfg.ExecutionBrokerURI, cfg.RPCDeadline())
	go registerAndHeartbeat(ctx, client, selfURI, def)

	<-ctx.Done()
	slog.Info("executor shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = httpSrv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("executor shutdown complete")
}

// registerAndHeartbeat registers with the broker and then sends a heartbeat
// on every interval. When a heartbeat fails or the broker no longer knows
// the unique_id (an empty echo, e.g. after a broker restart), the executor
// registers again (idempotently — §4.2 invariant 3) on the next interval,
// so a transient broker outage self-heals without a separate retry path.
func registerAndHeartbeat(ctx context.Context, client *broker.Client, selfURI string, def domain.ExecutorDefinition) {
	const heartbeatInterval = 10 * time.Second

	uniqueID, err := client.RegisterExecutor(ctx, selfURI, def)
	if err != nil {
		slog.Error("initial registration failed", "error", err)
	} else {
		slog.Info("registered with broker", "unique_id", uniqueID)
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if uniqueID == "" {
				uniqueID, err = client.RegisterExecutor(ctx, selfURI, def)
				if err != nil {
					slog.Warn("re-registration failed", "error", err)
					continue
				}
				slog.Info("registered with broker", "unique_id", uniqueID)
				continue
			}
			if echo, err := client.HeartBeat(ctx, uniqueID); err != nil || echo == "" {
				slog.Warn("heartbeat failed, will re-register", "error", err)
				uniqueID = ""
			}
		}
	}
}

func executorAddr() string {
	if a := os.Getenv("EXECUTOR_ADDR"); a != "" {
		return a
	}
	return ":50052"
}

// selfURI derives the broker-facing URI from addr, defaulting the host to
// loopback when addr is a bare ":port" listen spec.
func selfURI(addr string) string {
	if u := os.Getenv("EXECUTOR_URI"); u != "" {
		return u
	}
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

// capabilities reads a comma-separated EXECUTOR_PACKAGES list describing
// what this executor can run, per the Local capability subset-matching rule
// of §4.2.
func capabilities() domain.ExecutorDefinition {
	def := domain.ExecutorDefinition{Kind: domain.ExecutorKindLocal}
	raw := os.Getenv("EXECUTOR_PACKAGES")
	if raw == "" {
		return def
	}
	packages := strings.Split(raw, ",")
	for i := range packages {
		packages[i] = strings.TrimSpace(packages[i])
	}
	def.Local = &domain.LocalSpecification{Packages: packages}
	return def
}
