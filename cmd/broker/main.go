// Command broker runs the flowty execution broker: the registry of live
// executors and the RegisterExecutor/HeartBeat/FindExecutor RPCs of §6.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowty/flowty/internal/broker"
	"github.com/flowty/flowty/internal/config"
	"github.com/flowty/flowty/libs/go/core/logging"
	"github.com/flowty/flowty/libs/go/core/otelinit"
)

func main() {
	service := "broker"
	logging.Init(service)
	cfg := config.FromEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _, _ := otelinit.InitMetrics(ctx, service)

	registry := broker.NewRegistry(cfg.BrokerStaleness())
	srv := broker.NewServer(registry, slog.Default())
	defer srv.Close()

	httpSrv := &http.Server{Addr: ":50051", Handler: srv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("broker server error", "error", err)
			cancel()
		}
	}()
	slog.Info("broker started", "addr", httpSrv.Addr)

	<-ctx.Done()
	slog.Info("broker shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = httpSrv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("broker shutdown complete")
}
