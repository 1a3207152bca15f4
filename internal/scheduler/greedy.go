package scheduler

import (
	"sort"

	"github.com/netpulse/netpulse/internal/model"
)

func init() {
	Register("greedy", func() Strategy { return &Greedy{} })
}

// Greedy fills nodes in hostname order, packing each until its capacity
// runs out before moving on. Useful when nodes should be drained of
// spare capacity one at a time.

type Greedy struct{}

func (s *Greedy) NodeSelect(nodes []model.NodeInfo, host string) (model.NodeInfo, error) {
	selected := s.BatchNodeSelect(nodes, []string{host})
	if selected[0] == nil {
		return model.NodeInfo{}, ErrNoCapacity
	}
	return *selected[0], nil
}

func (s *Greedy) BatchNodeSelect(nodes []model.NodeInfo, hosts []string) []*model.NodeInfo {
	pool := make([]model.NodeInfo, len(nodes))
	copy(pool, nodes)
	sort.Slice(pool, func(i, k int) bool { return pool[i].Hostname < pool[k].Hostname })

	results := make([]*model.NodeInfo, len(hosts))
	cur := 0
	for i := range hosts {
		for cur < len(pool) && !pool[cur].HasCapacity() {
			cur++
		}
		if cur == len(pool) {
			break
		}

		picked := pool[cur]
		results[i] = &picked
		pool[cur].Count++
	}

	return results
}
