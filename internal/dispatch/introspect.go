package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/queue"
)

// JobStore is the queue-layer surface the inspector reads and cancels
// through. *queue.Client satisfies it.

type JobStore interface {
	FetchJob(ctx context.Context, id string) (queue.Job, error)
	FetchJobs(ctx context.Context, ids []string) ([]queue.Job, error)
	QueuedJobIDs(ctx context.Context, q string, limit int) ([]string, error)
	AllJobIDs(ctx context.Context) ([]string, error)
	RegistryJobIDs(ctx context.Context, kind queue.RegistryKind, q string) ([]string, error)
	CancelJob(ctx context.Context, id string) error
	AllWorkers(ctx context.Context, q string) ([]model.WorkerInfo, error)
	SendShutdownCommand(ctx context.Context, name string) error
}

// Inspector lists and manipulates jobs and workers across queues.

type Inspector struct {
	jobs JobStore
	fifo string
}

func NewInspector(jobs JobStore, fifoQueue string) *Inspector {
	return &Inspector{jobs: jobs, fifo: fifoQueue}
}

// GetJob fetches one job; a missing id yields ErrJobNotFound from the
// queue layer.

func (in *Inspector) GetJob(ctx context.Context, id string) (queue.Job, error) {
	return in.jobs.FetchJob(ctx, id)
}

// GetJobsByIDs fetches many, silently skipping missing ids.

func (in *Inspector) GetJobsByIDs(ctx context.Context, ids []string) ([]queue.Job, error) {
	return in.jobs.FetchJobs(ctx, ids)
}

// ListJobs filters jobs by queue and/or status. With a queue and a
// status the queue's registry answers; with just a queue its waiting
// jobs; with just a status the union across every queue known from
// active workers plus the FIFO queue; with neither, the whole job
// keyspace.

func (in *Inspector) ListJobs(ctx context.Context, q string, status queue.Status, limit int) ([]queue.Job, error) {
	var ids []string
	var err error

	switch {
	case q != "" && status != "":
		ids, err = in.jobIDsByStatus(ctx, status, q)
	case q != "":
		ids, err = in.jobs.QueuedJobIDs(ctx, q, limit)
	case status != "":
		ids, err = in.jobIDsByStatusAllQueues(ctx, status)
	default:
		ids, err = in.jobs.AllJobIDs(ctx)
	}
	if err != nil {
		return nil, err
	}

	ids = dedupe(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	return in.jobs.FetchJobs(ctx, ids)
}

func (in *Inspector) jobIDsByStatus(ctx context.Context, status queue.Status, q string) ([]string, error) {
	if status == queue.StatusQueued {
		return in.jobs.QueuedJobIDs(ctx, q, 0)
	}

	kind, ok := queue.RegistryKindForStatus(status)
	if !ok {
		slog.Default().ErrorContext(ctx, "inspect.invalid_status", "status", string(status))
		return nil, nil
	}

	return in.jobs.RegistryJobIDs(ctx, kind, q)
}

func (in *Inspector) jobIDsByStatusAllQueues(ctx context.Context, status queue.Status) ([]string, error) {
	workers, err := in.jobs.AllWorkers(ctx, "")
	if err != nil {
		return nil, err
	}

	queueNames := map[string]bool{in.fifo: true}
	for _, w := range workers {
		for _, q := range w.Queues {
			queueNames[q] = true
		}
	}

	var all []string
	for q := range queueNames {
		ids, err := in.jobIDsByStatus(ctx, status, q)
		if err != nil {
			slog.Default().DebugContext(ctx, "inspect.queue_listing_failed",
				"queue", q, "err", err)
			continue
		}
		all = append(all, ids...)
	}

	return all, nil
}

// CancelJob cancels by id or, when id is empty, every queued job on the
// queue. Only queued jobs can be canceled; an illegal transition is
// logged and reported as nothing-canceled. Returns the ids actually
// canceled.

func (in *Inspector) CancelJob(ctx context.Context, id, q string) ([]string, error) {
	if id != "" {
		err := in.jobs.CancelJob(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) {
			return []string{}, nil
		}
		if errors.Is(err, queue.ErrJobOperation) {
			slog.Default().WarnContext(ctx, "inspect.cancel_rejected", "job_id", id, "err", err)
			return []string{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	canceled := []string{}
	if q == "" {
		return canceled, nil
	}

	ids, err := in.jobs.QueuedJobIDs(ctx, q, 0)
	if err != nil {
		return nil, err
	}

	for _, jid := range ids {
		if err := in.jobs.CancelJob(ctx, jid); err != nil {
			// raced with a worker claiming it; skip
			continue
		}
		canceled = append(canceled, jid)
	}

	return canceled, nil
}

// ListWorkers lists worker records, optionally limited to one queue.

func (in *Inspector) ListWorkers(ctx context.Context, q string) ([]model.WorkerInfo, error) {
	return in.jobs.AllWorkers(ctx, q)
}

// KillWorker sends a graceful shutdown by worker name or, when name is
// empty, to every worker on the queue. Returns the names signaled.

func (in *Inspector) KillWorker(ctx context.Context, name, q string) ([]string, error) {
	if name != "" {
		if err := in.jobs.SendShutdownCommand(ctx, name); err != nil {
			return nil, err
		}
		return []string{name}, nil
	}

	killed := []string{}
	if q == "" {
		return killed, nil
	}

	workers, err := in.jobs.AllWorkers(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, w := range workers {
		if err := in.jobs.SendShutdownCommand(ctx, w.Name); err != nil {
			return nil, err
		}
		killed = append(killed, w.Name)
	}

	return killed, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
