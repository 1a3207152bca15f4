package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
	"github.com/redis/go-redis/v9"
)

// JobEnqueuer is the queue-layer seam the submitter writes through.

type JobEnqueuer interface {
	Enqueue(ctx context.Context, j queue.Job, pipe redis.Pipeliner) error
	EnqueueMany(ctx context.Context, js []queue.Job) error
}

// SendOptions tune one enqueue. Zero values fall back to the configured
// defaults.

type SendOptions struct {
	// TTL overrides the default in-queue lifetime, in seconds.
	TTL int

	OnSuccess *queue.Callback
	OnFailure *queue.Callback

	// Pipeline batches the enqueue into a caller-owned pipeline; the
	// job becomes observable only when the caller executes it.
	Pipeline redis.Pipeliner
}

// Submitter builds and enqueues jobs with the configured timeout policy
// and wrapped callbacks.

type Submitter struct {
	queues JobEnqueuer

	jobTimeout int // seconds
	jobTTL     int
	resultTTL  int
}

func NewSubmitter(queues JobEnqueuer, jobTimeout, jobTTL, resultTTL int) *Submitter {
	return &Submitter{
		queues:     queues,
		jobTimeout: jobTimeout,
		jobTTL:     jobTTL,
		resultTTL:  resultTTL,
	}
}

// BuildJob assembles a job record without touching the store. Both
// callbacks come out wrapped with the execution timeout so a stuck
// callback cannot pin a worker; a missing failure callback defaults to
// exception capture into job meta.

func (s *Submitter) BuildJob(q string, f rpc.FuncRef, kwargs json.RawMessage, opts SendOptions) queue.Job {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.jobTTL
	}

	return queue.NewJob(queue.NewJobParams{
		Queue:      q,
		Func:       string(f),
		Kwargs:     kwargs,
		Timeout:    s.jobTimeout,
		TTL:        ttl,
		ResultTTL:  s.resultTTL,
		FailureTTL: s.resultTTL,
		OnSuccess:  queue.WrapCallback(opts.OnSuccess, queue.CallbackNoop, s.jobTimeout),
		OnFailure:  queue.WrapCallback(opts.OnFailure, queue.CallbackCapture, s.jobTimeout),
	})
}

// SendJob enqueues a single job.

func (s *Submitter) SendJob(ctx context.Context, q string, f rpc.FuncRef, kwargs json.RawMessage, opts SendOptions) (queue.Job, error) {
	j := s.BuildJob(q, f, kwargs, opts)

	if err := s.queues.Enqueue(ctx, j, opts.Pipeline); err != nil {
		return queue.Job{}, err
	}

	return j, nil
}

// SendBatch enqueues many jobs onto one queue in a single pipeline.

func (s *Submitter) SendBatch(ctx context.Context, q string, funcs []rpc.FuncRef, kwargses []json.RawMessage, opts SendOptions) ([]queue.Job, error) {
	if len(funcs) != len(kwargses) {
		return nil, fmt.Errorf("%w: funcs and kwargs mismatch (%d != %d)", ErrArgument, len(funcs), len(kwargses))
	}

	jobs := make([]queue.Job, len(funcs))
	for i := range funcs {
		jobs[i] = s.BuildJob(q, funcs[i], kwargses[i], opts)
	}

	if err := s.queues.EnqueueMany(ctx, jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// SendMany enqueues prebuilt jobs, possibly across different queues, in
// one pipeline. All-or-nothing from the caller's point of view.

func (s *Submitter) SendMany(ctx context.Context, jobs []queue.Job) error {
	return s.queues.EnqueueMany(ctx, jobs)
}
