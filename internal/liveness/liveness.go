package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/netpulse/netpulse/internal/model"
)

// grace absorbs clock skew and heartbeat jitter between controller and
// workers.
const grace = 5 * time.Second

// WorkerLister exposes the worker records attached to a queue.

type WorkerLister interface {
	AllWorkers(ctx context.Context, q string) ([]model.WorkerInfo, error)
}

// Oracle decides, from heartbeats alone, whether a queue still has a
// worker behind it. The controller has no channel to a worker other
// than the records it writes.

type Oracle struct {
	workers WorkerLister

	// jobTimeout is how long a busy worker may block in device I/O
	// without heartbeating; workerTTL bounds an idle worker's gap.
	jobTimeout time.Duration
	workerTTL  time.Duration
}

func New(workers WorkerLister, jobTimeout, workerTTL time.Duration) *Oracle {
	return &Oracle{workers: workers, jobTimeout: jobTimeout, workerTTL: workerTTL}
}

// IsQueueAlive reports whether at least one alive worker is attached to
// the queue.

func (o *Oracle) IsQueueAlive(ctx context.Context, q string) (bool, error) {
	workers, err := o.workers.AllWorkers(ctx, q)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	for _, w := range workers {
		if o.aliveAt(w, now) {
			return true, nil
		}
	}

	slog.Default().DebugContext(ctx, "liveness.no_alive_worker", "queue", q)
	return false, nil
}

// aliveAt is the pure liveness rule. A worker inside a blocking device
// call legitimately skips heartbeats for up to the job timeout, so busy
// workers get the larger of the two budgets. Monotone in now: once a
// snapshot goes dead by time it stays dead.

func (o *Oracle) aliveAt(w model.WorkerInfo, now time.Time) bool {
	if w.DeathDate != nil {
		return false
	}

	gap := now.Sub(w.LastHeartbeat.UTC())

	if w.State == "busy" {
		return gap <= max(o.jobTimeout, o.workerTTL)+grace
	}
	return gap <= o.workerTTL+grace
}
