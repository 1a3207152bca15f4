package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/queue"
)

type fakeJobStore struct {
	jobs    map[string]queue.Job
	queued  map[string][]string // queue -> ids
	regs    map[string][]string // kind:queue -> ids
	workers []model.WorkerInfo

	shutdowns []string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:   map[string]queue.Job{},
		queued: map[string][]string{},
		regs:   map[string][]string{},
	}
}

func (f *fakeJobStore) add(j queue.Job) {
	f.jobs[j.ID] = j
	if j.Status == queue.StatusQueued {
		f.queued[j.Queue] = append(f.queued[j.Queue], j.ID)
	}
	if kind, ok := queue.RegistryKindForStatus(j.Status); ok {
		key := fmt.Sprintf("%s:%s", kind, j.Queue)
		f.regs[key] = append(f.regs[key], j.ID)
	}
}

func (f *fakeJobStore) FetchJob(_ context.Context, id string) (queue.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return queue.Job{}, queue.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeJobStore) FetchJobs(_ context.Context, ids []string) ([]queue.Job, error) {
	var out []queue.Job
	for _, id := range ids {
		if j, ok := f.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobStore) QueuedJobIDs(_ context.Context, q string, limit int) ([]string, error) {
	ids := f.queued[q]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeJobStore) AllJobIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id := range f.jobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeJobStore) RegistryJobIDs(_ context.Context, kind queue.RegistryKind, q string) ([]string, error) {
	return f.regs[fmt.Sprintf("%s:%s", kind, q)], nil
}

func (f *fakeJobStore) CancelJob(_ context.Context, id string) error {
	j, ok := f.jobs[id]
	if !ok {
		return queue.ErrJobNotFound
	}
	if j.Status != queue.StatusQueued {
		return fmt.Errorf("%w: cannot cancel a job in %q state", queue.ErrJobOperation, j.Status)
	}

	j.Status = queue.StatusCanceled
	f.jobs[id] = j

	ids := f.queued[j.Queue]
	for i, qid := range ids {
		if qid == id {
			f.queued[j.Queue] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeJobStore) AllWorkers(_ context.Context, q string) ([]model.WorkerInfo, error) {
	if q == "" {
		return f.workers, nil
	}

	var out []model.WorkerInfo
	for _, w := range f.workers {
		for _, wq := range w.Queues {
			if wq == q {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeJobStore) SendShutdownCommand(_ context.Context, name string) error {
	f.shutdowns = append(f.shutdowns, name)
	return nil
}

func queuedJob(id, q string) queue.Job {
	return queue.Job{ID: id, Queue: q, Func: "pull", Status: queue.StatusQueued}
}

func TestCancelJob_QueuedJobCanceled(t *testing.T) {
	fs := newFakeJobStore()
	fs.add(queuedJob("J", "q1"))

	in := NewInspector(fs, "fifoQ")

	canceled, err := in.CancelJob(context.Background(), "J", "")
	if err != nil {
		t.Fatalf("CancelJob error: %v", err)
	}

	if len(canceled) != 1 || canceled[0] != "J" {
		t.Fatalf("expected [J], got %v", canceled)
	}

	if fs.jobs["J"].Status != queue.StatusCanceled {
		t.Fatalf("expected canceled, got %s", fs.jobs["J"].Status)
	}
}

func TestCancelJob_StartedJobRejected(t *testing.T) {
	fs := newFakeJobStore()
	fs.add(queue.Job{ID: "J", Queue: "q1", Status: queue.StatusStarted})

	in := NewInspector(fs, "fifoQ")

	canceled, err := in.CancelJob(context.Background(), "J", "")
	if err != nil {
		t.Fatalf("CancelJob error: %v", err)
	}

	if len(canceled) != 0 {
		t.Fatalf("expected no cancellations, got %v", canceled)
	}

	if fs.jobs["J"].Status != queue.StatusStarted {
		t.Fatalf("status must be unchanged, got %s", fs.jobs["J"].Status)
	}
}

func TestCancelJob_MissingID(t *testing.T) {
	in := NewInspector(newFakeJobStore(), "fifoQ")

	canceled, err := in.CancelJob(context.Background(), "missing", "")
	if err != nil {
		t.Fatalf("CancelJob error: %v", err)
	}
	if len(canceled) != 0 {
		t.Fatalf("expected empty result for missing id, got %v", canceled)
	}
}

func TestCancelJob_ByQueue(t *testing.T) {
	fs := newFakeJobStore()
	fs.add(queuedJob("J1", "q1"))
	fs.add(queuedJob("J2", "q1"))
	fs.add(queue.Job{ID: "J3", Queue: "q1", Status: queue.StatusStarted})

	in := NewInspector(fs, "fifoQ")

	canceled, err := in.CancelJob(context.Background(), "", "q1")
	if err != nil {
		t.Fatalf("CancelJob error: %v", err)
	}

	if len(canceled) != 2 {
		t.Fatalf("expected 2 canceled, got %v", canceled)
	}

	if fs.jobs["J3"].Status != queue.StatusStarted {
		t.Fatalf("started job must survive queue-wide cancel")
	}
}

func TestListJobs_ByQueueAndStatus(t *testing.T) {
	fs := newFakeJobStore()
	fs.add(queue.Job{ID: "J1", Queue: "q1", Status: queue.StatusFailed})
	fs.add(queuedJob("J2", "q1"))

	in := NewInspector(fs, "fifoQ")

	jobs, err := in.ListJobs(context.Background(), "q1", queue.StatusFailed, 0)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}

	if len(jobs) != 1 || jobs[0].ID != "J1" {
		t.Fatalf("expected [J1], got %+v", jobs)
	}
}

func TestListJobs_StatusAcrossQueues(t *testing.T) {
	fs := newFakeJobStore()
	fs.add(queuedJob("J1", "fifoQ"))
	fs.add(queuedJob("J2", "hostQ:a"))
	fs.workers = []model.WorkerInfo{
		{Name: "w1", Queues: []string{"hostQ:a"}},
	}

	in := NewInspector(fs, "fifoQ")

	jobs, err := in.ListJobs(context.Background(), "", queue.StatusQueued, 0)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}

	if len(jobs) != 2 {
		t.Fatalf("expected jobs from worker queues plus fifo, got %+v", jobs)
	}
}

func TestListJobs_Limit(t *testing.T) {
	fs := newFakeJobStore()
	for i := 0; i < 5; i++ {
		fs.add(queuedJob(fmt.Sprintf("J%d", i), "q1"))
	}

	in := NewInspector(fs, "fifoQ")

	jobs, err := in.ListJobs(context.Background(), "q1", "", 3)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
}

func TestKillWorker_ByName(t *testing.T) {
	fs := newFakeJobStore()
	in := NewInspector(fs, "fifoQ")

	killed, err := in.KillWorker(context.Background(), "w1", "")
	if err != nil {
		t.Fatalf("KillWorker error: %v", err)
	}

	if len(killed) != 1 || killed[0] != "w1" {
		t.Fatalf("expected [w1], got %v", killed)
	}
	if len(fs.shutdowns) != 1 {
		t.Fatalf("expected shutdown command sent")
	}
}

func TestKillWorker_ByQueue(t *testing.T) {
	fs := newFakeJobStore()
	fs.workers = []model.WorkerInfo{
		{Name: "w1", Queues: []string{"hostQ:a"}},
		{Name: "w2", Queues: []string{"hostQ:a"}},
		{Name: "w3", Queues: []string{"hostQ:b"}},
	}

	in := NewInspector(fs, "fifoQ")

	killed, err := in.KillWorker(context.Background(), "", "hostQ:a")
	if err != nil {
		t.Fatalf("KillWorker error: %v", err)
	}

	if len(killed) != 2 {
		t.Fatalf("expected 2 killed, got %v", killed)
	}
}

func TestKillWorker_NoSelector(t *testing.T) {
	in := NewInspector(newFakeJobStore(), "fifoQ")

	killed, err := in.KillWorker(context.Background(), "", "")
	if err != nil {
		t.Fatalf("KillWorker error: %v", err)
	}
	if len(killed) != 0 {
		t.Fatalf("expected no kills, got %v", killed)
	}
}
