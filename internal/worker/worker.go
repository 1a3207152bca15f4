package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/observability"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("netpulse-worker")

// JobQueue is the queue-layer surface the worker drives; *queue.Client
// satisfies it.

type JobQueue interface {
	Dequeue(ctx context.Context, queues []string, timeout time.Duration) (queue.Job, error)
	MarkStarted(ctx context.Context, j queue.Job) (queue.Job, error)
	MarkFinished(ctx context.Context, j queue.Job, result []byte) error
	MarkFailed(ctx context.Context, j queue.Job, errMsg string) error
	MarkStopped(ctx context.Context, j queue.Job) error
	UpdateMeta(ctx context.Context, id string, meta queue.Meta) error
	RegisterWorker(ctx context.Context, w model.WorkerInfo) error
	Heartbeat(ctx context.Context, name, state string) error
	SetDeathDate(ctx context.Context, name string) error
	DeregisterWorker(ctx context.Context, name string) error
	PopCommand(ctx context.Context, name string) (string, error)
}

type Config struct {
	Name     string
	Hostname string
	PID      int

	// Queues the worker pops, in priority order. A pinned worker has
	// exactly its host queue; a FIFO worker the shared queue.
	Queues []string

	HeartbeatInterval time.Duration
	DequeueTimeout    time.Duration
	ShutdownGrace     time.Duration
}

// Worker pops jobs from its queues and runs them one at a time. Device
// I/O is strictly serial; only the session monitor runs concurrently,
// and never outside the monitor mutex.

type Worker struct {
	cfg     Config
	queues  JobQueue
	slot    *SessionSlot
	runner  *Runner
	cbs     *callbackRunner
	metrics *observability.JobMetrics

	stateMu sync.RWMutex
	state   string
}

func New(cfg Config, queues JobQueue, hooks webhook.Deliverer) *Worker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 2 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	slot := NewSessionSlot()
	return &Worker{
		cfg:     cfg,
		queues:  queues,
		slot:    slot,
		runner:  NewRunner(slot),
		cbs:     &callbackRunner{meta: queues, hooks: hooks},
		metrics: observability.NewJobMetrics(),
		state:   queue.WorkerStateIdle,
	}
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

func (w *Worker) State() string {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *Worker) setState(s string) {
	w.stateMu.Lock()
	w.state = s
	w.stateMu.Unlock()
}

// Run registers the worker and serves jobs until the context ends, a
// shutdown command arrives, or the session monitor declares the device
// session dead.

func (w *Worker) Run(ctx context.Context) error {
	now := time.Now().UTC()
	err := w.queues.RegisterWorker(ctx, model.WorkerInfo{
		Name:          w.cfg.Name,
		Hostname:      w.cfg.Hostname,
		PID:           w.cfg.PID,
		Queues:        w.cfg.Queues,
		State:         queue.WorkerStateIdle,
		LastHeartbeat: now,
		BirthDate:     now,
	})
	if err != nil {
		return err
	}

	slog.Default().InfoContext(ctx, "worker.start",
		"name", w.cfg.Name, "queues", w.cfg.Queues)

	// shutdown commands land here; the monitor's suicide signal arrives on
	// the slot's own channel, which the main loop watches alongside this one
	shutdownCh := make(chan string, 1)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(loopCtx, shutdownCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.logMetricsLoop(loopCtx, 30*time.Second)
	}()

	reason := w.mainLoop(loopCtx, shutdownCh)

	// graceful exit: advertise death first so liveness checks stop
	// counting us, then release the session and the record
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), w.cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := w.queues.SetDeathDate(shutdownCtx, w.cfg.Name); err != nil {
		slog.Default().ErrorContext(shutdownCtx, "worker.set_death_date_failed", "err", err)
	}

	w.slot.Close()

	if err := w.queues.DeregisterWorker(shutdownCtx, w.cfg.Name); err != nil {
		slog.Default().ErrorContext(shutdownCtx, "worker.deregister_failed", "err", err)
	}

	cancel()
	wg.Wait()

	slog.Default().InfoContext(shutdownCtx, "worker.shutdown_complete",
		"name", w.cfg.Name, "reason", reason)
	return nil
}

func (w *Worker) mainLoop(ctx context.Context, shutdownCh <-chan string) string {
	dequeueFailures := 0

	for {
		select {
		case <-ctx.Done():
			return "context canceled"
		case reason := <-shutdownCh:
			return reason
		case reason := <-w.slot.Shutdown():
			return reason
		default:
		}

		j, err := w.queues.Dequeue(ctx, w.cfg.Queues, w.cfg.DequeueTimeout)
		if errors.Is(err, queue.ErrJobNotFound) {
			dequeueFailures = 0
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "context canceled"
			}

			delay := ExponentialBackoff(dequeueFailures)
			dequeueFailures++
			slog.Default().ErrorContext(ctx, "worker.dequeue_failed",
				"err", err, "retry_in", delay)

			select {
			case <-ctx.Done():
				return "context canceled"
			case <-time.After(delay):
			}
			continue
		}

		dequeueFailures = 0
		w.metrics.IncClaimed()
		w.process(ctx, j)
	}
}

func (w *Worker) process(ctx context.Context, j queue.Job) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.String("job.id", j.ID),
			attribute.String("job.func", j.Func),
			attribute.String("job.queue", j.Queue),
			attribute.String("worker.name", w.cfg.Name),
		),
	)
	defer span.End()

	w.setState(queue.WorkerStateBusy)
	defer w.setState(queue.WorkerStateIdle)

	started, err := w.queues.MarkStarted(ctx, j)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark_started_failed")
		slog.Default().ErrorContext(ctx, "job.mark_started_failed", "job_id", j.ID, "err", err)
		return
	}
	j = started

	slog.Default().InfoContext(ctx, "job.start",
		"job_id", j.ID, "func", j.Func, "queue", j.Queue)

	// hard wall-clock limit on execution
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(j.Timeout)*time.Second)
	result, execErr := w.runner.Execute(execCtx, j)
	cancel()

	d := time.Since(start)
	w.metrics.ObserveDuration(d)

	if execErr != nil {
		// preempted by worker shutdown, not a job fault
		if errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
			w.metrics.IncStopped()

			// the loop context is gone; give the mark its own deadline
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()

			if err := w.queues.MarkStopped(stopCtx, j); err != nil {
				slog.Default().ErrorContext(stopCtx, "job.mark_stopped_failed", "job_id", j.ID, "err", err)
			}
			span.SetStatus(codes.Error, "stopped")
			return
		}

		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		w.metrics.IncFailed()

		if err := w.queues.MarkFailed(ctx, j, execErr.Error()); err != nil {
			slog.Default().ErrorContext(ctx, "job.mark_failed_failed", "job_id", j.ID, "err", err)
		}

		w.cbs.run(ctx, j.OnFailure, j, nil, execErr)

		slog.Default().ErrorContext(ctx, "job.error",
			"job_id", j.ID, "func", j.Func, "duration_ms", d.Milliseconds(), "err", execErr)
		return
	}

	if err := w.queues.MarkFinished(ctx, j, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark_finished_failed")
		slog.Default().ErrorContext(ctx, "job.mark_finished_failed", "job_id", j.ID, "err", err)
		_ = w.queues.MarkFailed(ctx, j, "mark_finished_failed: "+err.Error())
		return
	}

	w.metrics.IncFinished()
	w.cbs.run(ctx, j.OnSuccess, j, result, nil)

	span.SetStatus(codes.Ok, "finished")
	span.SetAttributes(attribute.Int64("job.duration_ms", d.Milliseconds()))

	slog.Default().InfoContext(ctx, "job.done",
		"job_id", j.ID, "func", j.Func, "duration_ms", d.Milliseconds())
}

// heartbeatLoop advertises liveness and polls the worker's command
// channel for shutdown requests.

func (w *Worker) heartbeatLoop(ctx context.Context, shutdownCh chan<- string) {
	t := time.NewTicker(w.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.queues.Heartbeat(ctx, w.cfg.Name, w.State()); err != nil {
				slog.Default().ErrorContext(ctx, "worker.heartbeat_failed", "err", err)
			}

			cmd, err := w.queues.PopCommand(ctx, w.cfg.Name)
			if err != nil {
				slog.Default().ErrorContext(ctx, "worker.command_poll_failed", "err", err)
				continue
			}

			if cmd == queue.CommandShutdown {
				slog.Default().InfoContext(ctx, "worker.shutdown_command_received",
					"name", w.cfg.Name)
				select {
				case shutdownCh <- "shutdown command":
				default:
				}
				return
			}
		}
	}
}

func (w *Worker) logMetricsLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := w.metrics.Snapshot()
			slog.Default().InfoContext(ctx, "worker.metrics",
				"claimed", s.Claimed,
				"finished", s.Finished,
				"failed", s.Failed,
				"duration_avg", s.AverageDuration.String(),
				"duration_max", s.MaxDuration.String(),
			)
		}
	}
}
