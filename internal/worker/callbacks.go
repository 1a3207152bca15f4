package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/netpulse/netpulse/internal/dispatch"
	"github.com/netpulse/netpulse/internal/driver"
	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
	"github.com/netpulse/netpulse/internal/webhook"
)

// CallbackFunc is a worker-registered user callback, invoked with the
// finished job, its result (nil on failure) and its error (nil on
// success).

type CallbackFunc func(ctx context.Context, j queue.Job, result json.RawMessage, jobErr error) error

var userCallbacks = map[string]CallbackFunc{}

// RegisterCallback installs a named callback resolvable from job
// descriptors with kind "ref".

func RegisterCallback(name string, fn CallbackFunc) {
	userCallbacks[name] = fn
}

// MetaWriter persists job meta updates; *queue.Client satisfies it.

type MetaWriter interface {
	UpdateMeta(ctx context.Context, id string, meta queue.Meta) error
}

// callbackRunner executes persisted callback descriptors with their
// timeout budget.

type callbackRunner struct {
	meta  MetaWriter
	hooks webhook.Deliverer
}

func (r *callbackRunner) run(ctx context.Context, cb queue.Callback, j queue.Job, result json.RawMessage, jobErr error) {
	if cb.Kind == queue.CallbackNoop {
		return
	}

	timeout := time.Duration(cb.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	switch cb.Kind {
	case queue.CallbackCapture:
		err = r.capture(cbCtx, j, jobErr)
	case queue.CallbackWebHook:
		err = r.callWebHook(cbCtx, cb, j, result, jobErr)
	case queue.CallbackRef:
		fn, ok := userCallbacks[cb.Ref]
		if !ok {
			slog.Default().WarnContext(ctx, "callback.unknown_ref", "ref", cb.Ref, "job_id", j.ID)
			return
		}
		err = fn(cbCtx, j, result, jobErr)
	default:
		slog.Default().WarnContext(ctx, "callback.unknown_kind", "kind", string(cb.Kind))
		return
	}

	if err != nil {
		slog.Default().ErrorContext(ctx, "callback.failed",
			"kind", string(cb.Kind), "job_id", j.ID, "err", err)
	}
}

// capture stores the failure's (type, value) into job meta so callers
// can see why the job died.

func (r *callbackRunner) capture(ctx context.Context, j queue.Job, jobErr error) error {
	if jobErr == nil {
		return nil
	}

	return r.meta.UpdateMeta(ctx, j.ID, queue.Meta{
		Error: &model.JobError{
			Type:  errorType(jobErr),
			Value: jobErr.Error(),
		},
	})
}

func (r *callbackRunner) callWebHook(ctx context.Context, cb queue.Callback, j queue.Job, result json.RawMessage, jobErr error) error {
	if cb.WebHook == nil {
		return errors.New("webhook callback without webhook config")
	}

	jobResult := model.JobResult{Type: model.ResultSuccessful, Retval: result}
	if jobErr != nil {
		jobResult = model.JobResult{
			Type:  model.ResultFailed,
			Error: &model.JobError{Type: errorType(jobErr), Value: jobErr.Error()},
		}
	}

	payload := struct {
		Job    dispatch.JobRef `json:"job"`
		Result model.JobResult `json:"result"`
	}{
		Job:    dispatch.RefFromJob(j),
		Result: jobResult,
	}

	return r.hooks.Call(ctx, *cb.WebHook, payload)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, driver.ErrDriver):
		return "DriverError"
	case errors.Is(err, rpc.ErrInvalidPayload), errors.Is(err, rpc.ErrInvalidFuncRef):
		return "PayloadError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	default:
		return "Error"
	}
}
