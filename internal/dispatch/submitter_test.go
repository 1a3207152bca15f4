package dispatch

import (
	"context"
	"errors"
	"testing"

	"encoding/json"

	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
)

func TestSubmitter_TTLDefaulting(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewSubmitter(enq, 300, 600, 120)

	j := s.BuildJob("q", rpc.FuncPull, nil, SendOptions{})
	if j.TTL != 600 {
		t.Fatalf("expected default ttl 600, got %d", j.TTL)
	}

	j = s.BuildJob("q", rpc.FuncPull, nil, SendOptions{TTL: 42})
	if j.TTL != 42 {
		t.Fatalf("expected ttl override 42, got %d", j.TTL)
	}

	if j.Timeout != 300 || j.ResultTTL != 120 || j.FailureTTL != 120 {
		t.Fatalf("unexpected timeouts: %+v", j)
	}
}

func TestSubmitter_MetaStartsClean(t *testing.T) {
	s := NewSubmitter(&fakeEnqueuer{}, 300, 600, 120)

	j := s.BuildJob("q", rpc.FuncPull, nil, SendOptions{})
	if j.Meta.Error != nil {
		t.Fatalf("meta error must start null, got %+v", j.Meta.Error)
	}
	if j.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", j.Status)
	}
	if j.ID == "" {
		t.Fatalf("job must get an id")
	}
}

func TestSubmitter_SendBatchLengthMismatch(t *testing.T) {
	s := NewSubmitter(&fakeEnqueuer{}, 300, 600, 120)

	_, err := s.SendBatch(context.Background(), "q",
		[]rpc.FuncRef{rpc.FuncPull, rpc.FuncPull},
		[]json.RawMessage{nil},
		SendOptions{})

	if !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}

func TestSubmitter_SendBatchSingles(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewSubmitter(enq, 300, 600, 120)

	jobs, err := s.SendBatch(context.Background(), "q",
		[]rpc.FuncRef{rpc.FuncPull, rpc.FuncPush},
		[]json.RawMessage{nil, nil},
		SendOptions{})
	if err != nil {
		t.Fatalf("SendBatch error: %v", err)
	}

	if len(jobs) != 2 || len(enq.jobs) != 2 {
		t.Fatalf("expected 2 jobs built and enqueued, got %d/%d", len(jobs), len(enq.jobs))
	}

	if jobs[0].Func != "pull" || jobs[1].Func != "push" {
		t.Fatalf("func refs lost: %s %s", jobs[0].Func, jobs[1].Func)
	}
}
