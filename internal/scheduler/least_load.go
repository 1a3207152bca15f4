package scheduler

import (
	"github.com/netpulse/netpulse/internal/model"
)

func init() {
	Register("least_load", func() Strategy { return &LeastLoad{} })
}

// LeastLoad places each host on the node with the lowest count/capacity
// ratio, breaking ties by hostname so selection is reproducible.

type LeastLoad struct{}

func (s *LeastLoad) NodeSelect(nodes []model.NodeInfo, host string) (model.NodeInfo, error) {
	selected := s.BatchNodeSelect(nodes, []string{host})
	if selected[0] == nil {
		return model.NodeInfo{}, ErrNoCapacity
	}
	return *selected[0], nil
}

func (s *LeastLoad) BatchNodeSelect(nodes []model.NodeInfo, hosts []string) []*model.NodeInfo {
	// work on a copy: counts are simulated forward as hosts are placed
	pool := make([]model.NodeInfo, len(nodes))
	copy(pool, nodes)

	results := make([]*model.NodeInfo, len(hosts))
	for i := range hosts {
		best := -1
		for k := range pool {
			if !pool[k].HasCapacity() {
				continue
			}
			if best == -1 || less(pool[k], pool[best]) {
				best = k
			}
		}

		if best == -1 {
			continue
		}

		picked := pool[best]
		results[i] = &picked
		pool[best].Count++
	}

	return results
}

func less(a, b model.NodeInfo) bool {
	// compare count/capacity without division: a.Count*b.Capacity vs
	// b.Count*a.Capacity
	la, lb := a.Count*b.Capacity, b.Count*a.Capacity
	if la != lb {
		return la < lb
	}
	return a.Hostname < b.Hostname
}
