package model

import "testing"

func TestQueueStrategy_IsValid(t *testing.T) {
	if !StrategyFIFO.IsValid() || !StrategyPinned.IsValid() {
		t.Fatalf("known strategies must be valid")
	}
	if QueueStrategy("round_robin").IsValid() {
		t.Fatalf("unknown strategy must be invalid")
	}
}

func TestNodeInfo_Identity(t *testing.T) {
	a := NodeInfo{Hostname: "n1", Count: 1, Capacity: 4}
	b := NodeInfo{Hostname: "n1", Count: 3, Capacity: 8}

	// identity is by hostname only
	if !a.Equal(b) {
		t.Fatalf("nodes with the same hostname must be equal")
	}

	if a.Equal(NodeInfo{Hostname: "n2"}) {
		t.Fatalf("different hostnames must not be equal")
	}
}

func TestNodeInfo_HasCapacity(t *testing.T) {
	if (NodeInfo{Count: 4, Capacity: 4}).HasCapacity() {
		t.Fatalf("full node must not have capacity")
	}
	if !(NodeInfo{Count: 3, Capacity: 4}).HasCapacity() {
		t.Fatalf("node with headroom must have capacity")
	}
}

func TestConnectionArgs_Equal(t *testing.T) {
	a := ConnectionArgs{Host: "10.0.0.1", Username: "admin", Password: "x", Keepalive: 30}
	b := a

	if !a.Equal(b) {
		t.Fatalf("identical args must be equal")
	}

	b.Password = "y"
	if a.Equal(b) {
		t.Fatalf("changed password must force a re-dial")
	}
}
