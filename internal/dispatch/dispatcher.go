package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/observability"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
	"github.com/netpulse/netpulse/internal/scheduler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// maxAssignRetries bounds the pinned assignment loop. The only real
// race is scheduler vs. scheduler; one retry resolves it in practice,
// two covers node-selected-then-found-dead, three caps latency.
const maxAssignRetries = 3

var tracer = otel.Tracer("netpulse-dispatch")

// NodeRegistry is the dispatcher's view of the node hashes.

type NodeRegistry interface {
	GetAllNodes(ctx context.Context) ([]model.NodeInfo, error)
	GetAssignedNode(ctx context.Context, host string) (*model.NodeInfo, error)
	GetAssignedNodes(ctx context.Context, hosts []string) ([]*model.NodeInfo, error)
	ForceDeleteNode(ctx context.Context, node model.NodeInfo) error
}

// Liveness answers whether a queue still has a worker behind it.

type Liveness interface {
	IsQueueAlive(ctx context.Context, q string) (bool, error)
}

// JobSubmitter is the enqueue seam, satisfied by *Submitter.

type JobSubmitter interface {
	BuildJob(q string, f rpc.FuncRef, kwargs json.RawMessage, opts SendOptions) queue.Job
	SendJob(ctx context.Context, q string, f rpc.FuncRef, kwargs json.RawMessage, opts SendOptions) (queue.Job, error)
	SendBatch(ctx context.Context, q string, funcs []rpc.FuncRef, kwargses []json.RawMessage, opts SendOptions) ([]queue.Job, error)
	SendMany(ctx context.Context, jobs []queue.Job) error
}

// QueueNames derives the queue for each routing decision.

type QueueNames struct {
	FIFO      string
	HostQueue func(host string) string
}

// Dispatcher routes jobs to queues: the shared FIFO queue, or a per-host
// pinned queue backed by a single-session worker it may have to launch.
// All shared state lives in the store; concurrent dispatchers coordinate
// only optimistically.

type Dispatcher struct {
	registry  NodeRegistry
	liveness  Liveness
	submitter JobSubmitter
	strategy  scheduler.Strategy
	names     QueueNames

	prom *observability.Prom
}

func NewDispatcher(registry NodeRegistry, liveness Liveness, submitter JobSubmitter, strategy scheduler.Strategy, names QueueNames) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		liveness:  liveness,
		submitter: submitter,
		strategy:  strategy,
		names:     names,
	}
}

// SetMetrics attaches prometheus instrumentation. Optional; the
// dispatcher works without it.

func (d *Dispatcher) SetMetrics(prom *observability.Prom) {
	d.prom = prom
}

func (d *Dispatcher) observe(strat model.QueueStrategy, result string, start time.Time) {
	if d.prom == nil {
		return
	}
	d.prom.DispatchTotal.WithLabelValues(string(strat), result).Inc()
	d.prom.DispatchDuration.WithLabelValues(string(strat)).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) countEviction() {
	if d.prom != nil {
		d.prom.NodeEvictions.Inc()
	}
}

func (d *Dispatcher) countSpawns(n int) {
	if d.prom != nil {
		d.prom.SpawnsLaunched.Add(float64(n))
	}
}

type DispatchOptions struct {
	TTL       int
	OnSuccess *queue.Callback
	OnFailure *queue.Callback
}

// Dispatch routes a single job and returns the enqueued record.

func (d *Dispatcher) Dispatch(ctx context.Context, connArgs model.ConnectionArgs, strat model.QueueStrategy, f rpc.FuncRef, kwargs json.RawMessage, opts DispatchOptions) (job queue.Job, err error) {
	start := time.Now()
	defer func() {
		switch {
		case err == nil:
			d.observe(strat, "enqueued", start)
		case errors.Is(err, ErrWorkerUnavailable):
			d.observe(strat, "unavailable", start)
		default:
			d.observe(strat, "failed", start)
		}
	}()

	ctx, span := tracer.Start(ctx, "dispatch.single")
	defer span.End()
	span.SetAttributes(
		attribute.String("queue_strategy", string(strat)),
		attribute.String("func", string(f)),
	)

	var qName string

	switch strat {
	case model.StrategyFIFO:
		qName = d.names.FIFO

		alive, err := d.liveness.IsQueueAlive(ctx, qName)
		if err != nil {
			return queue.Job{}, err
		}
		if !alive {
			return queue.Job{}, fmt.Errorf("%w: no alive FIFO worker", ErrWorkerUnavailable)
		}

	case model.StrategyPinned:
		host := connArgs.Host
		if host == "" {
			return queue.Job{}, fmt.Errorf("%w: host is required for pinned strategy", ErrArgument)
		}

		node, err := d.resolvePinnedNode(ctx, host)
		if err != nil {
			return queue.Job{}, err
		}

		qName = d.names.HostQueue(host)

		// no worker on the host queue yet: launch one optimistically.
		// A duplicate spawn from a racing controller is fine, the node
		// worker dedupes re-pins.
		alive, err := d.liveness.IsQueueAlive(ctx, qName)
		if err != nil {
			return queue.Job{}, err
		}
		if !alive {
			if err := d.launchPinnedWorkers(ctx, []string{host}, *node); err != nil {
				return queue.Job{}, err
			}
		}

	default:
		return queue.Job{}, fmt.Errorf("%w: invalid queue strategy %q", ErrArgument, strat)
	}

	return d.submitter.SendJob(ctx, qName, f, kwargs, SendOptions{
		TTL:       opts.TTL,
		OnSuccess: opts.OnSuccess,
		OnFailure: opts.OnFailure,
	})
}

// resolvePinnedNode finds (or assigns) a live node for the host.
//
// The host's lifecycle is none => assigned => pinned. Assignment here is
// an optimistic pick: another controller may assign concurrently, and
// the node worker is the one that confirms ownership. A node that stops
// answering heartbeats gets force-evicted and the loop reselects.

func (d *Dispatcher) resolvePinnedNode(ctx context.Context, host string) (*model.NodeInfo, error) {
	var node *model.NodeInfo

	for attempt := 0; attempt < maxAssignRetries; attempt++ {
		found, err := d.registry.GetAssignedNode(ctx, host)
		if err != nil {
			return nil, err
		}
		node = found

		if node == nil {
			slog.Default().DebugContext(ctx, "dispatch.host_unassigned", "host", host)

			nodes, err := d.registry.GetAllNodes(ctx)
			if err != nil {
				return nil, err
			}

			selected, err := d.strategy.NodeSelect(nodes, host)
			if err != nil {
				slog.Default().ErrorContext(ctx, "dispatch.node_select_failed",
					"host", host, "err", err)
				continue
			}
			node = &selected
		}

		// only a force-exited node leaves stale registry data behind;
		// clean it up and reselect
		alive, err := d.liveness.IsQueueAlive(ctx, node.Queue)
		if err != nil {
			slog.Default().ErrorContext(ctx, "dispatch.liveness_check_failed",
				"node", node.Hostname, "err", err)
			node = nil
			continue
		}

		if !alive {
			slog.Default().WarnContext(ctx, "dispatch.node_dead_evicting", "node", node.Hostname)
			if err := d.registry.ForceDeleteNode(ctx, *node); err != nil {
				slog.Default().ErrorContext(ctx, "dispatch.force_delete_failed",
					"node", node.Hostname, "err", err)
			}
			d.countEviction()
			node = nil
			continue
		}

		slog.Default().InfoContext(ctx, "dispatch.node_selected",
			"host", host, "node", node.Hostname)
		return node, nil
	}

	if node == nil {
		return nil, fmt.Errorf("%w: no available node for host %s", ErrWorkerUnavailable, host)
	}
	return node, nil
}

// launchPinnedWorkers enqueues one spawn job per host on the node's own
// queue. The dispatcher does not await the spawn; the user job is
// enqueued on the host queue right after and waits for the worker.

func (d *Dispatcher) launchPinnedWorkers(ctx context.Context, hosts []string, node model.NodeInfo) error {
	funcs := make([]rpc.FuncRef, len(hosts))
	kwargses := make([]json.RawMessage, len(hosts))

	for i, host := range hosts {
		kwargs, err := rpc.EncodePayload(rpc.FuncSpawn, rpc.SpawnPayload{
			QName: d.names.HostQueue(host),
			Host:  host,
		})
		if err != nil {
			return err
		}

		funcs[i] = rpc.FuncSpawn
		kwargses[i] = kwargs
	}

	slog.Default().InfoContext(ctx, "dispatch.pin_hosts",
		"hosts", hosts, "node", node.Hostname)

	if _, err := d.submitter.SendBatch(ctx, node.Queue, funcs, kwargses, SendOptions{}); err != nil {
		return err
	}

	d.countSpawns(len(hosts))
	return nil
}
