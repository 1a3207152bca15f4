package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/netpulse/netpulse/internal/model"
)

type fakeStore struct {
	hashes map[string]map[string]string

	delCalls []map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: map[string]map[string]string{}}
}

func (f *fakeStore) set(key, field, value string) {
	if f.hashes[key] == nil {
		f.hashes[key] = map[string]string{}
	}
	f.hashes[key][field] = value
}

func (f *fakeStore) setNode(key string, n model.NodeInfo) {
	b, _ := json.Marshal(n)
	f.set(key, n.Hostname, string(b))
}

func (f *fakeStore) HashGet(_ context.Context, key, field string) (string, bool, error) {
	v, ok := f.hashes[key][field]
	return v, ok, nil
}

func (f *fakeStore) HashGetMany(_ context.Context, key string, fields []string) ([]*string, error) {
	out := make([]*string, len(fields))
	for i, field := range fields {
		if v, ok := f.hashes[key][field]; ok {
			s := v
			out[i] = &s
		}
	}
	return out, nil
}

func (f *fakeStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	return f.hashes[key], nil
}

func (f *fakeStore) HashScan(_ context.Context, key string) (map[string]string, error) {
	return f.hashes[key], nil
}

func (f *fakeStore) HashDelMulti(_ context.Context, dels map[string][]string) error {
	f.delCalls = append(f.delCalls, dels)
	for key, fields := range dels {
		for _, field := range fields {
			delete(f.hashes[key], field)
		}
	}
	return nil
}

type fakeCommander struct {
	workersByQueue map[string][]model.WorkerInfo
	shutdowns      []string
}

func (f *fakeCommander) AllWorkers(_ context.Context, q string) ([]model.WorkerInfo, error) {
	return f.workersByQueue[q], nil
}

func (f *fakeCommander) SendShutdownCommand(_ context.Context, name string) error {
	f.shutdowns = append(f.shutdowns, name)
	return nil
}

func newTestRegistry() (*Registry, *fakeStore, *fakeCommander) {
	store := newFakeStore()
	cmd := &fakeCommander{workersByQueue: map[string][]model.WorkerInfo{}}
	r := New(store, cmd, Config{
		HostToNodeMapKey: "host_map",
		NodeInfoMapKey:   "node_map",
		HostQueueName:    func(host string) string { return "hostQ:" + host },
	})
	return r, store, cmd
}

func TestGetNode(t *testing.T) {
	r, store, _ := newTestRegistry()
	store.setNode("node_map", model.NodeInfo{Hostname: "n1", Count: 1, Capacity: 4, Queue: "nodeQ:n1"})

	n, err := r.GetNode(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetNode error: %v", err)
	}
	if n == nil || n.Queue != "nodeQ:n1" {
		t.Fatalf("unexpected node: %+v", n)
	}

	missing, err := r.GetNode(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetNode error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for absent node, got %+v", missing)
	}
}

func TestGetAssignedNodes_PreservesOrderAndGaps(t *testing.T) {
	r, store, _ := newTestRegistry()
	store.setNode("node_map", model.NodeInfo{Hostname: "n1", Count: 1, Capacity: 4, Queue: "nodeQ:n1"})
	store.setNode("node_map", model.NodeInfo{Hostname: "n2", Count: 2, Capacity: 4, Queue: "nodeQ:n2"})
	store.set("host_map", "h1", "n1")
	store.set("host_map", "h3", "n2")

	nodes, err := r.GetAssignedNodes(context.Background(), []string{"h1", "h2", "h3"})
	if err != nil {
		t.Fatalf("GetAssignedNodes error: %v", err)
	}

	if nodes[0] == nil || nodes[0].Hostname != "n1" {
		t.Fatalf("index 0: expected n1, got %+v", nodes[0])
	}
	if nodes[1] != nil {
		t.Fatalf("index 1: expected nil for unassigned host, got %+v", nodes[1])
	}
	if nodes[2] == nil || nodes[2].Hostname != "n2" {
		t.Fatalf("index 2: expected n2, got %+v", nodes[2])
	}
}

func TestGetAssignedNodes_DanglingReferenceTolerated(t *testing.T) {
	r, store, _ := newTestRegistry()
	// host points at a node whose info row is gone
	store.set("host_map", "h1", "ghost")

	nodes, err := r.GetAssignedNodes(context.Background(), []string{"h1"})
	if err != nil {
		t.Fatalf("GetAssignedNodes error: %v", err)
	}
	if nodes[0] != nil {
		t.Fatalf("dangling reference must resolve to nil, got %+v", nodes[0])
	}
}

func TestForceDeleteNode_RemovesFootprintAndShutsDownWorkers(t *testing.T) {
	r, store, cmd := newTestRegistry()
	node := model.NodeInfo{Hostname: "n1", Count: 2, Capacity: 4, Queue: "nodeQ:n1"}
	store.setNode("node_map", node)
	store.set("host_map", "h1", "n1")
	store.set("host_map", "h2", "n1")
	store.set("host_map", "h3", "n2")

	cmd.workersByQueue["hostQ:h1"] = []model.WorkerInfo{{Name: "w-h1"}}
	cmd.workersByQueue["hostQ:h2"] = []model.WorkerInfo{{Name: "w-h2"}}

	if err := r.ForceDeleteNode(context.Background(), node); err != nil {
		t.Fatalf("ForceDeleteNode error: %v", err)
	}

	if _, ok := store.hashes["node_map"]["n1"]; ok {
		t.Fatalf("node row must be deleted")
	}
	if _, ok := store.hashes["host_map"]["h1"]; ok {
		t.Fatalf("h1 assignment must be deleted")
	}
	if _, ok := store.hashes["host_map"]["h3"]; !ok {
		t.Fatalf("assignments of other nodes must survive")
	}

	// both hashes cleaned in one atomic pipeline
	if len(store.delCalls) != 1 {
		t.Fatalf("expected a single pipelined delete, got %d", len(store.delCalls))
	}

	if len(cmd.shutdowns) != 2 {
		t.Fatalf("expected both workers shut down, got %v", cmd.shutdowns)
	}
}

func TestForceDeleteNode_Idempotent(t *testing.T) {
	r, store, _ := newTestRegistry()
	node := model.NodeInfo{Hostname: "n1", Count: 0, Capacity: 4, Queue: "nodeQ:n1"}
	store.setNode("node_map", node)

	if err := r.ForceDeleteNode(context.Background(), node); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := r.ForceDeleteNode(context.Background(), node); err != nil {
		t.Fatalf("second delete must be a no-op, got: %v", err)
	}
}

func TestGetAllNodes(t *testing.T) {
	r, store, _ := newTestRegistry()
	store.setNode("node_map", model.NodeInfo{Hostname: "n1", Capacity: 4})
	store.setNode("node_map", model.NodeInfo{Hostname: "n2", Capacity: 8})

	nodes, err := r.GetAllNodes(context.Background())
	if err != nil {
		t.Fatalf("GetAllNodes error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
}
