// Command scheduler runs the flowty scheduler: the harvest/tick loop of
// §4.3, dispatching workflow instances against the execution broker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowty/flowty/internal/broker"
	"github.com/flowty/flowty/internal/config"
	"github.com/flowty/flowty/internal/scheduler"
	"github.com/flowty/flowty/internal/scheduler/boltstore"
	"github.com/flowty/flowty/internal/scheduler/postgres"
	"github.com/flowty/flowty/libs/go/core/logging"
	"github.com/flowty/flowty/libs/go/core/otelinit"
)

func main() {
	service := "scheduler"
	logging.Init(service)
	cfg := config.FromEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _, _ := otelinit.InitMetrics(ctx, service)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	brokerClient := broker.NewClient(cfg.ExecutionBrokerURI, cfg.RPCDeadline())
	dispatcher := scheduler.NewDispatcher(brokerClient, cfg.RPCDeadline(), slog.Default())
	sched := scheduler.New(store, dispatcher, cfg.LoopInterval(), slog.Default())

	admin := scheduler.NewAdminServer(store, sched, slog.Default())
	httpSrv := &http.Server{Addr: ":8092", Handler: admin.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("scheduler admin server error", "error", err)
			cancel()
		}
	}()

	slog.Info("scheduler started", "loop_interval", cfg.LoopInterval(), "admin_addr", httpSrv.Addr)
	go func() {
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("scheduler loop exited", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("scheduler shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = httpSrv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("scheduler shutdown complete")
}

// openStore picks the scheduler.Store backend: postgres unless
// SCHEDULER_STORE=bolt, matching the dual-store design of §6/DESIGN.md.
func openStore(ctx context.Context, cfg config.Config) (scheduler.Store, func(), error) {
	if os.Getenv("SCHEDULER_STORE") == "bolt" {
		store, err := boltstore.Open(cfg.BoltDBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	store, err := postgres.Open(ctx, cfg.PSQLURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
