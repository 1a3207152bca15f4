package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/netpulse/netpulse/internal/model"
)

// Store is the slice of the state store the registry needs.

type Store interface {
	HashGet(ctx context.Context, key, field string) (string, bool, error)
	HashGetMany(ctx context.Context, key string, fields []string) ([]*string, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashScan(ctx context.Context, key string) (map[string]string, error)
	HashDelMulti(ctx context.Context, dels map[string][]string) error
}

// WorkerCommander shuts down workers left behind by an evicted node.

type WorkerCommander interface {
	AllWorkers(ctx context.Context, q string) ([]model.WorkerInfo, error)
	SendShutdownCommand(ctx context.Context, name string) error
}

type Config struct {
	HostToNodeMapKey string
	NodeInfoMapKey   string

	// HostQueueName maps a host to its pinned queue name.
	HostQueueName func(host string) string
}

// Registry reads and (only on eviction) writes the two node hashes.
// Everything else about those hashes belongs to the node workers.

type Registry struct {
	store   Store
	workers WorkerCommander
	cfg     Config
}

func New(store Store, workers WorkerCommander, cfg Config) *Registry {
	return &Registry{store: store, workers: workers, cfg: cfg}
}

func (r *Registry) GetNode(ctx context.Context, name string) (*model.NodeInfo, error) {
	raw, ok, err := r.store.HashGet(ctx, r.cfg.NodeInfoMapKey, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	node, err := parseNodeInfo(raw)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *Registry) GetAllNodes(ctx context.Context) ([]model.NodeInfo, error) {
	entries, err := r.store.HashGetAll(ctx, r.cfg.NodeInfoMapKey)
	if err != nil {
		return nil, err
	}

	nodes := make([]model.NodeInfo, 0, len(entries))
	for _, raw := range entries {
		node, err := parseNodeInfo(raw)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// GetAssignedNodes resolves hosts to their assigned nodes in two bulk
// lookups: one over host->node, one over node->info. The result is
// index-aligned with hosts; unassigned hosts (and hosts whose node row
// has gone missing) map to nil.

func (r *Registry) GetAssignedNodes(ctx context.Context, hosts []string) ([]*model.NodeInfo, error) {
	results := make([]*model.NodeInfo, len(hosts))
	if len(hosts) == 0 {
		return results, nil
	}

	mappings, err := r.store.HashGetMany(ctx, r.cfg.HostToNodeMapKey, hosts)
	if err != nil {
		return nil, err
	}

	// preserve input positions for the second lookup
	var idxs []int
	var nodeNames []string
	for i, m := range mappings {
		if m != nil {
			idxs = append(idxs, i)
			nodeNames = append(nodeNames, *m)
		}
	}

	if len(nodeNames) == 0 {
		return results, nil
	}

	infos, err := r.store.HashGetMany(ctx, r.cfg.NodeInfoMapKey, nodeNames)
	if err != nil {
		return nil, err
	}

	for k, raw := range infos {
		if raw == nil {
			// dangling host->node reference, tolerated until reassignment
			continue
		}

		node, err := parseNodeInfo(*raw)
		if err != nil {
			return nil, err
		}
		results[idxs[k]] = &node
	}

	return results, nil
}

// GetAssignedNode is the single-host form of GetAssignedNodes.

func (r *Registry) GetAssignedNode(ctx context.Context, host string) (*model.NodeInfo, error) {
	nodes, err := r.GetAssignedNodes(ctx, []string{host})
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// ForceDeleteNode removes a dead node's registry footprint: every
// host->node row pointing at it plus its own info row, in one atomic
// pipeline. Afterwards every worker still on an evicted host's queue is
// told to shut down. Safe to call twice.
//
// The two hashes are normally owned by the node worker; this is the one
// sanctioned exception, taken only once the node is declared dead.

func (r *Registry) ForceDeleteNode(ctx context.Context, node model.NodeInfo) error {
	assignments, err := r.store.HashScan(ctx, r.cfg.HostToNodeMapKey)
	if err != nil {
		return err
	}

	var hosts []string
	for host, nodeName := range assignments {
		if nodeName == node.Hostname {
			hosts = append(hosts, host)
		}
	}

	dels := map[string][]string{
		r.cfg.NodeInfoMapKey: {node.Hostname},
	}
	if len(hosts) > 0 {
		dels[r.cfg.HostToNodeMapKey] = hosts
	}

	if err := r.store.HashDelMulti(ctx, dels); err != nil {
		return err
	}

	for _, host := range hosts {
		qName := r.cfg.HostQueueName(host)

		workers, err := r.workers.AllWorkers(ctx, qName)
		if err != nil {
			slog.Default().WarnContext(ctx, "registry.evict_worker_list_failed",
				"queue", qName, "err", err)
			continue
		}

		for _, w := range workers {
			if err := r.workers.SendShutdownCommand(ctx, w.Name); err != nil {
				slog.Default().WarnContext(ctx, "registry.evict_shutdown_failed",
					"worker", w.Name, "err", err)
			}
		}
	}

	return nil
}

func parseNodeInfo(raw string) (model.NodeInfo, error) {
	var node model.NodeInfo
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return model.NodeInfo{}, fmt.Errorf("invalid node info: %w", err)
	}
	return node, nil
}
