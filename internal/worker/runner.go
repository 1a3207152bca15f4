package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/netpulse/netpulse/internal/driver"
	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/queue"
	"github.com/netpulse/netpulse/internal/rpc"
)

// Runner resolves a job's func ref and runs the device operation. Spawn
// jobs are node-worker territory and rejected here.

type Runner struct {
	slot *SessionSlot
}

func NewRunner(slot *SessionSlot) *Runner {
	return &Runner{slot: slot}
}

func (r *Runner) Execute(ctx context.Context, j queue.Job) (json.RawMessage, error) {
	f := rpc.FuncRef(j.Func)

	payload, err := rpc.DecodePayload(f, j.Kwargs)
	if err != nil {
		return nil, err
	}

	if err := rpc.ValidatePayload(f, payload); err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case rpc.PullPayload:
		return r.pull(ctx, p.Req)
	case rpc.PushPayload:
		return r.push(ctx, p.Req)
	case rpc.SpawnPayload:
		return nil, fmt.Errorf("%w: spawn jobs belong on a node worker queue", rpc.ErrInvalidPayload)
	default:
		return nil, rpc.ErrInvalidFuncRef
	}
}

func (r *Runner) pull(ctx context.Context, req model.PullingRequest) (json.RawMessage, error) {
	factory, err := driver.Lookup(req.Driver)
	if err != nil {
		return nil, err
	}

	drv, err := factory.FromPullingRequest(req)
	if err != nil {
		return nil, err
	}

	var result map[string]string
	err = r.withSession(ctx, drv, req.ConnectionArgs, func(session driver.Session) error {
		out, err := drv.Send(ctx, session, req.Commands)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(result)
}

func (r *Runner) push(ctx context.Context, req model.PushingRequest) (json.RawMessage, error) {
	factory, err := driver.Lookup(req.Driver)
	if err != nil {
		return nil, err
	}

	drv, err := factory.FromPushingRequest(req)
	if err != nil {
		return nil, err
	}

	var result []string
	err = r.withSession(ctx, drv, req.ConnectionArgs, func(session driver.Session) error {
		out, err := drv.Config(ctx, session, req.Config)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(result)
}

// withSession routes through the persistent slot when the request wants
// a kept-alive session; otherwise the session lives only for this job.

func (r *Runner) withSession(ctx context.Context, drv driver.Driver, connArgs model.ConnectionArgs, fn func(driver.Session) error) error {
	if connArgs.Keepalive > 0 {
		return r.slot.WithSession(ctx, drv, connArgs, fn)
	}

	session, err := drv.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = drv.Disconnect(session, true)
	}()

	return fn(session)
}
