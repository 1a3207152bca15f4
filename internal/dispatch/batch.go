package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
)

// DispatchBatch routes one job per connection arg and reports per-host
// outcomes: the enqueued jobs in input order plus the hosts that could
// not be served. Store round-trips stay O(1) in the batch size: bulk
// assignment lookup, one node listing, one pipelined send.

func (d *Dispatcher) DispatchBatch(ctx context.Context, connArgs []model.ConnectionArgs, strat model.QueueStrategy, f rpc.FuncRef, kwargses []json.RawMessage, opts DispatchOptions) ([]queue.Job, []string, error) {
	ctx, span := tracer.Start(ctx, "dispatch.batch")
	defer span.End()

	if len(connArgs) != len(kwargses) {
		return nil, nil, fmt.Errorf("%w: conn args and kwargs mismatch (%d != %d)", ErrArgument, len(connArgs), len(kwargses))
	}

	sendOpts := SendOptions{TTL: opts.TTL, OnSuccess: opts.OnSuccess, OnFailure: opts.OnFailure}

	if strat == model.StrategyFIFO {
		alive, err := d.liveness.IsQueueAlive(ctx, d.names.FIFO)
		if err != nil {
			return nil, nil, err
		}
		if !alive {
			return nil, nil, fmt.Errorf("%w: no alive FIFO worker", ErrWorkerUnavailable)
		}

		funcs := make([]rpc.FuncRef, len(connArgs))
		for i := range funcs {
			funcs[i] = f
		}

		jobs, err := d.submitter.SendBatch(ctx, d.names.FIFO, funcs, kwargses, sendOpts)
		if err != nil {
			return nil, nil, err
		}
		return jobs, nil, nil
	}

	if strat != model.StrategyPinned {
		return nil, nil, fmt.Errorf("%w: invalid queue strategy %q", ErrArgument, strat)
	}

	hosts := make([]string, len(connArgs))
	for i, ca := range connArgs {
		if ca.Host == "" {
			return nil, nil, fmt.Errorf("%w: host is required for pinned strategy (index %d)", ErrArgument, i)
		}
		hosts[i] = ca.Host
	}

	nodes, err := d.registry.GetAssignedNodes(ctx, hosts)
	if err != nil {
		return nil, nil, err
	}

	var assigned, unassigned []int
	failed := make(map[int]bool)
	for i, n := range nodes {
		if n == nil {
			unassigned = append(unassigned, i)
		} else {
			assigned = append(assigned, i)
		}
	}

	if len(unassigned) > 0 {
		d.scheduleUnassigned(ctx, hosts, unassigned, failed)
	}

	// one pipelined send for everything that still has a queue to go to
	var sendIdxs []int
	for _, i := range unassigned {
		if !failed[i] {
			sendIdxs = append(sendIdxs, i)
		}
	}
	sendIdxs = append(sendIdxs, assigned...)

	jobsByIdx := make(map[int]queue.Job, len(sendIdxs))
	if len(sendIdxs) > 0 {
		jobs := make([]queue.Job, len(sendIdxs))
		for k, i := range sendIdxs {
			jobs[k] = d.submitter.BuildJob(d.names.HostQueue(hosts[i]), f, kwargses[i], sendOpts)
		}

		if err := d.submitter.SendMany(ctx, jobs); err != nil {
			// the pipeline is all-or-nothing from the caller's view:
			// every host in this send counts as failed
			slog.Default().WarnContext(ctx, "dispatch.batch_send_failed", "err", err)
			for _, i := range sendIdxs {
				failed[i] = true
			}
		} else {
			for k, i := range sendIdxs {
				jobsByIdx[i] = jobs[k]
			}
		}
	}

	var succeeded []queue.Job
	var failedHosts []string
	for i := range hosts {
		if failed[i] {
			failedHosts = append(failedHosts, hosts[i])
			continue
		}
		if j, ok := jobsByIdx[i]; ok {
			succeeded = append(succeeded, j)
		}
	}

	if d.prom != nil {
		d.prom.DispatchTotal.WithLabelValues(string(strat), "enqueued").Add(float64(len(succeeded)))
		d.prom.DispatchTotal.WithLabelValues(string(strat), "failed").Add(float64(len(failedHosts)))
	}

	return succeeded, failedHosts, nil
}

// scheduleUnassigned places unassigned hosts on nodes, launches their
// pinned workers per node group, and marks what could not be placed.
// Scheduling problems never fail the whole batch, only the hosts they
// touch.

func (d *Dispatcher) scheduleUnassigned(ctx context.Context, hosts []string, unassigned []int, failed map[int]bool) {
	allNodes, err := d.registry.GetAllNodes(ctx)
	if err != nil {
		slog.Default().ErrorContext(ctx, "dispatch.node_list_failed", "err", err)
		for _, i := range unassigned {
			failed[i] = true
		}
		return
	}

	unassignedHosts := make([]string, len(unassigned))
	for k, i := range unassigned {
		unassignedHosts[k] = hosts[i]
	}

	selected := d.strategy.BatchNodeSelect(allNodes, unassignedHosts)
	if len(selected) != len(unassigned) {
		slog.Default().ErrorContext(ctx, "dispatch.node_select_mismatch",
			"want", len(unassigned), "got", len(selected))
		for _, i := range unassigned {
			failed[i] = true
		}
		return
	}

	// group placed hosts by node
	groups := make(map[string][]int)
	nodeByName := make(map[string]model.NodeInfo)
	for k, n := range selected {
		idx := unassigned[k]
		if n == nil {
			failed[idx] = true
			continue
		}
		groups[n.Hostname] = append(groups[n.Hostname], idx)
		nodeByName[n.Hostname] = *n
	}

	for name, idxs := range groups {
		node := nodeByName[name]

		alive, err := d.liveness.IsQueueAlive(ctx, node.Queue)
		if err != nil || !alive {
			slog.Default().WarnContext(ctx, "dispatch.node_dead_evicting", "node", name, "err", err)
			if err := d.registry.ForceDeleteNode(ctx, node); err != nil {
				slog.Default().ErrorContext(ctx, "dispatch.force_delete_failed",
					"node", name, "err", err)
			}
			d.countEviction()
			for _, i := range idxs {
				failed[i] = true
			}
			continue
		}

		groupHosts := make([]string, len(idxs))
		for k, i := range idxs {
			groupHosts[k] = hosts[i]
		}

		if err := d.launchPinnedWorkers(ctx, groupHosts, node); err != nil {
			slog.Default().ErrorContext(ctx, "dispatch.spawn_launch_failed",
				"node", name, "hosts", groupHosts, "err", err)
			for _, i := range idxs {
				failed[i] = true
			}
		}
	}
}
