package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
)

// JobRef is the caller-facing view of an enqueued job.

type JobRef struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Func       string          `json:"func"`
	Status     queue.Status    `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	MetaError  *model.JobError `json:"meta_error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
}

func RefFromJob(j queue.Job) JobRef {
	return JobRef{
		ID:         j.ID,
		Queue:      j.Queue,
		Func:       j.Func,
		Status:     j.Status,
		Result:     j.Result,
		Error:      j.Error,
		MetaError:  j.Meta.Error,
		EnqueuedAt: j.EnqueuedAt,
		StartedAt:  j.StartedAt,
		EndedAt:    j.EndedAt,
	}
}

func refsFromJobs(js []queue.Job) []JobRef {
	out := make([]JobRef, len(js))
	for i, j := range js {
		out[i] = RefFromJob(j)
	}
	return out
}

// callbacksFor wires the request's webhook, when present, as both the
// success and failure callback.

func callbacksFor(hook *model.WebHook) (onSuccess, onFailure *queue.Callback) {
	if hook == nil {
		return nil, nil
	}

	cb := &queue.Callback{Kind: queue.CallbackWebHook, WebHook: hook}
	return cb, cb
}

// PullFromDevice dispatches a single pulling request.

func (d *Dispatcher) PullFromDevice(ctx context.Context, req model.PullingRequest) (JobRef, error) {
	kwargs, err := rpc.EncodePayload(rpc.FuncPull, rpc.PullPayload{Req: req})
	if err != nil {
		return JobRef{}, err
	}

	onSuccess, onFailure := callbacksFor(req.WebHook)
	j, err := d.Dispatch(ctx, req.ConnectionArgs, req.QueueStrategy, rpc.FuncPull, kwargs, DispatchOptions{
		TTL:       req.TTL,
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	})
	if err != nil {
		return JobRef{}, err
	}

	return RefFromJob(j), nil
}

// PushToDevice dispatches a single pushing request.

func (d *Dispatcher) PushToDevice(ctx context.Context, req model.PushingRequest) (JobRef, error) {
	kwargs, err := rpc.EncodePayload(rpc.FuncPush, rpc.PushPayload{Req: req})
	if err != nil {
		return JobRef{}, err
	}

	onSuccess, onFailure := callbacksFor(req.WebHook)
	j, err := d.Dispatch(ctx, req.ConnectionArgs, req.QueueStrategy, rpc.FuncPush, kwargs, DispatchOptions{
		TTL:       req.TTL,
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	})
	if err != nil {
		return JobRef{}, err
	}

	return RefFromJob(j), nil
}

// PullFromBatchDevices dispatches a batch of pulling requests. Strategy,
// ttl and webhook come from the first request, matching the batch API
// contract.

func (d *Dispatcher) PullFromBatchDevices(ctx context.Context, reqs []model.PullingRequest) ([]JobRef, []string, error) {
	if len(reqs) == 0 {
		return nil, nil, nil
	}

	connArgs := make([]model.ConnectionArgs, len(reqs))
	kwargses := make([]json.RawMessage, len(reqs))
	for i, req := range reqs {
		kwargs, err := rpc.EncodePayload(rpc.FuncPull, rpc.PullPayload{Req: req})
		if err != nil {
			return nil, nil, err
		}
		connArgs[i] = req.ConnectionArgs
		kwargses[i] = kwargs
	}

	onSuccess, onFailure := callbacksFor(reqs[0].WebHook)
	jobs, failedHosts, err := d.DispatchBatch(ctx, connArgs, reqs[0].QueueStrategy, rpc.FuncPull, kwargses, DispatchOptions{
		TTL:       reqs[0].TTL,
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	})
	if err != nil {
		return nil, nil, err
	}

	return refsFromJobs(jobs), failedHosts, nil
}

// PushToBatchDevices dispatches a batch of pushing requests.

func (d *Dispatcher) PushToBatchDevices(ctx context.Context, reqs []model.PushingRequest) ([]JobRef, []string, error) {
	if len(reqs) == 0 {
		return nil, nil, nil
	}

	connArgs := make([]model.ConnectionArgs, len(reqs))
	kwargses := make([]json.RawMessage, len(reqs))
	for i, req := range reqs {
		kwargs, err := rpc.EncodePayload(rpc.FuncPush, rpc.PushPayload{Req: req})
		if err != nil {
			return nil, nil, err
		}
		connArgs[i] = req.ConnectionArgs
		kwargses[i] = kwargs
	}

	onSuccess, onFailure := callbacksFor(reqs[0].WebHook)
	jobs, failedHosts, err := d.DispatchBatch(ctx, connArgs, reqs[0].QueueStrategy, rpc.FuncPush, kwargses, DispatchOptions{
		TTL:       reqs[0].TTL,
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	})
	if err != nil {
		return nil, nil, err
	}

	return refsFromJobs(jobs), failedHosts, nil
}
