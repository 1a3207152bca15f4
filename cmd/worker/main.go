package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/netpulse/netpulse/internal/config"
	"github.com/netpulse/netpulse/internal/observability"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/store"
	"github.com/netpulse/netpulse/internal/webhook"
	"github.com/netpulse/netpulse/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "netpulse-worker", cfg.API.OTLPAddr)
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

	host, _ := os.Hostname()
	name := host + "-" + strconv.Itoa(os.Getpid())

	// WORKER_QUEUES picks the queues to serve; a pinned worker gets its
	// host queue from the node worker, a FIFO worker the shared queue.
	queuesEnv := os.Getenv("WORKER_QUEUES")
	var queues []string
	if queuesEnv != "" {
		for _, q := range strings.Split(queuesEnv, ",") {
			if q = strings.TrimSpace(q); q != "" {
				queues = append(queues, q)
			}
		}
	}
	if len(queues) == 0 {
		queues = []string{cfg.FIFOQueueName()}
	}

	hooks := webhook.NewProtectedCaller(webhook.NewCaller(), webhook.ProtectedCallerConfig{
		FailureThreshold: 3,
		Cooldown:         15 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	w := worker.New(worker.Config{
		Name:              name,
		Hostname:          host,
		PID:               os.Getpid(),
		Queues:            queues,
		HeartbeatInterval: 15 * time.Second,
		DequeueTimeout:    2 * time.Second,
		ShutdownGrace:     10 * time.Second,
	}, queueClient, hooks)

	// health + metrics server
	reg := prometheus.NewRegistry()
	shuttingDown := func() bool { return ctx.Err() != nil }
	srv := &http.Server{
		Addr:    cfg.API.HealthAddr,
		Handler: worker.HealthHandler(storeClient, shuttingDown, reg),
	}

	go func() {
		slog.Default().InfoContext(ctx, "worker.health_server_start", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().ErrorContext(ctx, "worker.health_server_failed", "err", err)
		}
	}()

	slog.Default().InfoContext(ctx, "worker.boot",
		"name", name, "queues", queues, "health_addr", cfg.API.HealthAddr)

	if err := w.Run(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "worker.run_failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
