package scheduler

import (
	"errors"
	"fmt"

	"github.com/netpulse/netpulse/internal/model"
)

var ErrNoCapacity = errors.New("no node with free capacity")

// Strategy picks an executor node for a host. Implementations must be
// deterministic for a given node set and may only return nodes with
// count < capacity. Exclusivity is not required: two controllers may
// pick the same (node, host) pair and the node worker dedupes.

type Strategy interface {
	// NodeSelect picks one node for one host, or fails when no node
	// has free capacity.
	NodeSelect(nodes []model.NodeInfo, host string) (model.NodeInfo, error)

	// BatchNodeSelect picks a node per host, index-aligned with hosts.
	// Nil entries mean the host could not be placed.
	BatchNodeSelect(nodes []model.NodeInfo, hosts []string) []*model.NodeInfo
}

type factory func() Strategy

var strategies = map[string]factory{}

// Register installs a strategy under a name. Called from init funcs of
// the implementations.

func Register(name string, f factory) {
	strategies[name] = f
}

// New builds the named strategy from the plugin registry.

func New(name string) (Strategy, error) {
	f, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown scheduler %q", name)
	}
	return f(), nil
}
