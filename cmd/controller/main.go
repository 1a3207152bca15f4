package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/netpulse/netpulse/internal/config"
	"github.com/netpulse/netpulse/internal/dispatch"
	nphttp "github.com/netpulse/netpulse/internal/http"
	"github.com/netpulse/netpulse/internal/liveness"
	"github.com/netpulse/netpulse/internal/observability"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/registry"
	"github.com/netpulse/netpulse/internal/scheduler"
	"github.com/netpulse/netpulse/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// tracing first so all spans/logs can attach
	shutdownTracer, err := observability.InitTracer(context.Background(), "netpulse-controller", cfg.API.OTLPAddr)
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	base := observability.NewLogger(cfg.Env)
	logger := slog.New(observability.NewTraceHandler(base.Handler()))
	slog.SetDefault(logger)

	storeClient := store.New(store.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer storeClient.Close()

	queueClient := queue.NewClient(storeClient, cfg.Redis.KeyPrefix)

	nodeRegistry := registry.New(storeClient, queueClient, registry.Config{
		HostToNodeMapKey: cfg.Redis.HostToNodeMapKey,
		NodeInfoMapKey:   cfg.Redis.NodeInfoMapKey,
		HostQueueName:    cfg.HostQueueName,
	})

	oracle := liveness.New(queueClient, cfg.Job.Timeout, cfg.Worker.TTL)

	strategy, err := scheduler.New(cfg.Worker.Scheduler)
	if err != nil {
		slog.Default().ErrorContext(ctx, "scheduler.load_failed",
			"name", cfg.Worker.Scheduler, "err", err)
		os.Exit(1)
	}

	submitter := dispatch.NewSubmitter(queueClient,
		int(cfg.Job.Timeout.Seconds()),
		int(cfg.Job.TTL.Seconds()),
		int(cfg.Job.ResultTTL.Seconds()),
	)

	dispatcher := dispatch.NewDispatcher(nodeRegistry, oracle, submitter, strategy, dispatch.QueueNames{
		FIFO:      cfg.FIFOQueueName(),
		HostQueue: cfg.HostQueueName,
	})

	inspector := dispatch.NewInspector(queueClient, cfg.FIFOQueueName())

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	dispatcher.SetMetrics(prom)

	readyCheck := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		return storeClient.Ping(pingCtx)
	}

	router := nphttp.NewRouter(cfg, nphttp.Deps{
		Dispatcher:   dispatcher,
		Jobs:         inspector,
		Workers:      inspector,
		Prom:         prom,
		PromRegistry: reg,
		ReadyCheck:   readyCheck,
	})

	srv := &stdhttp.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		slog.Default().InfoContext(ctx, "controller.start", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			slog.Default().ErrorContext(ctx, "controller.serve_failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	slog.Default().InfoContext(context.Background(), "controller.shutdown_complete")
}
