package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/netpulse/netpulse/internal/driver"
	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
	"github.com/netpulse/netpulse/internal/webhook"
)

// fakeFactory lets tests register a controllable driver under a name.

type fakeFactory struct {
	drv *fakeDriver
}

func (f *fakeFactory) FromPullingRequest(_ model.PullingRequest) (driver.Driver, error) {
	return f.drv, nil
}

func (f *fakeFactory) FromPushingRequest(_ model.PushingRequest) (driver.Driver, error) {
	return f.drv, nil
}

type fakeJobQueue struct {
	mu sync.Mutex

	started  []string
	finished []string
	failed   []string
	results  map[string][]byte
	errs     map[string]string
	meta     map[string]queue.Meta

	heartbeats []string
	deathSet   bool
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{
		results: map[string][]byte{},
		errs:    map[string]string{},
		meta:    map[string]queue.Meta{},
	}
}

func (f *fakeJobQueue) Dequeue(_ context.Context, _ []string, _ time.Duration) (queue.Job, error) {
	return queue.Job{}, queue.ErrJobNotFound
}

func (f *fakeJobQueue) MarkStarted(_ context.Context, j queue.Job) (queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, j.ID)
	j.Status = queue.StatusStarted
	return j, nil
}

func (f *fakeJobQueue) MarkFinished(_ context.Context, j queue.Job, result []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, j.ID)
	f.results[j.ID] = result
	return nil
}

func (f *fakeJobQueue) MarkFailed(_ context.Context, j queue.Job, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, j.ID)
	f.errs[j.ID] = errMsg
	return nil
}

func (f *fakeJobQueue) MarkStopped(_ context.Context, j queue.Job) error {
	return nil
}

func (f *fakeJobQueue) UpdateMeta(_ context.Context, id string, meta queue.Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[id] = meta
	return nil
}

func (f *fakeJobQueue) RegisterWorker(_ context.Context, _ model.WorkerInfo) error {
	return nil
}

func (f *fakeJobQueue) Heartbeat(_ context.Context, name, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, state)
	return nil
}

func (f *fakeJobQueue) SetDeathDate(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deathSet = true
	return nil
}

func (f *fakeJobQueue) DeregisterWorker(_ context.Context, _ string) error {
	return nil
}

func (f *fakeJobQueue) PopCommand(_ context.Context, _ string) (string, error) {
	return "", nil
}

func pullJob(t *testing.T, driverName, host string) queue.Job {
	t.Helper()

	kwargs, err := rpc.EncodePayload(rpc.FuncPull, rpc.PullPayload{Req: model.PullingRequest{
		Driver:         driverName,
		ConnectionArgs: model.ConnectionArgs{Host: host},
		Commands:       []string{"show version"},
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	return queue.Job{
		ID:        "job-1",
		Queue:     "hostQ:" + host,
		Func:      string(rpc.FuncPull),
		Kwargs:    kwargs,
		Timeout:   30,
		OnSuccess: queue.Callback{Kind: queue.CallbackNoop, Timeout: 30},
		OnFailure: queue.Callback{Kind: queue.CallbackCapture, Timeout: 30},
		Status:    queue.StatusQueued,
	}
}

func newTestWorker(q JobQueue) *Worker {
	return New(Config{
		Name:   "w-test",
		Queues: []string{"hostQ:10.0.0.9"},
	}, q, webhook.NewCaller())
}

func TestProcess_SuccessMarksFinished(t *testing.T) {
	drv := &fakeDriver{t: t, sendResult: map[string]string{"show version": "IOS 15.2"}}
	driver.Register("fake-ok", &fakeFactory{drv: drv})

	q := newFakeJobQueue()
	w := newTestWorker(q)

	w.process(context.Background(), pullJob(t, "fake-ok", "10.0.0.9"))

	if len(q.started) != 1 || len(q.finished) != 1 {
		t.Fatalf("expected started+finished, got %v/%v", q.started, q.finished)
	}
	if len(q.failed) != 0 {
		t.Fatalf("unexpected failures: %v", q.failed)
	}

	if string(q.results["job-1"]) != `{"show version":"IOS 15.2"}` {
		t.Fatalf("unexpected result: %s", q.results["job-1"])
	}
}

func TestProcess_FailureCapturesMetaError(t *testing.T) {
	drv := &fakeDriver{t: t, sendErr: driver.ErrDriver}
	driver.Register("fake-err", &fakeFactory{drv: drv})

	q := newFakeJobQueue()
	w := newTestWorker(q)

	w.process(context.Background(), pullJob(t, "fake-err", "10.0.0.9"))

	if len(q.failed) != 1 {
		t.Fatalf("expected a failed job, got %v", q.failed)
	}

	meta, ok := q.meta["job-1"]
	if !ok || meta.Error == nil {
		t.Fatalf("capture callback must record the error, got %+v", meta)
	}
	if meta.Error.Type != "DriverError" {
		t.Fatalf("expected DriverError, got %s", meta.Error.Type)
	}
}

func TestProcess_UnknownDriverFails(t *testing.T) {
	q := newFakeJobQueue()
	w := newTestWorker(q)

	w.process(context.Background(), pullJob(t, "no-such-driver", "10.0.0.9"))

	if len(q.failed) != 1 {
		t.Fatalf("expected failure for unknown driver, got %v", q.failed)
	}
}

func TestProcess_SpawnRejected(t *testing.T) {
	q := newFakeJobQueue()
	w := newTestWorker(q)

	kwargs, _ := rpc.EncodePayload(rpc.FuncSpawn, rpc.SpawnPayload{QName: "q", Host: "h"})
	j := queue.Job{
		ID: "spawn-1", Queue: "nodeQ:n1", Func: string(rpc.FuncSpawn),
		Kwargs: kwargs, Timeout: 30,
		OnFailure: queue.Callback{Kind: queue.CallbackCapture, Timeout: 30},
	}

	w.process(context.Background(), j)

	if len(q.failed) != 1 {
		t.Fatalf("device workers must reject spawn jobs")
	}
}

func TestErrorType(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{driver.ErrDriver, "DriverError"},
		{rpc.ErrInvalidPayload, "PayloadError"},
		{context.DeadlineExceeded, "TimeoutError"},
		{errors.New("boom"), "Error"},
	}

	for _, tc := range cases {
		if got := errorType(tc.err); got != tc.want {
			t.Fatalf("errorType(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
