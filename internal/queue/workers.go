package queue

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	WorkerStateIdle = "idle"
	WorkerStateBusy = "busy"

	// CommandShutdown asks a worker to finish its current job and exit.
	CommandShutdown = "shutdown"
)

// workerKeyTTL keeps crashed-worker records from lingering forever. The
// liveness oracle makes the real call from heartbeat math; this is only
// keyspace hygiene.
const workerKeyTTL = 10 * time.Minute

func (c *Client) workerKey(name string) string {
	return c.prefix + ":worker:" + name
}

func (c *Client) workersKey() string {
	return c.prefix + ":workers"
}

func (c *Client) cmdKey(name string) string {
	return c.prefix + ":cmd:" + name
}

// RegisterWorker writes the worker's record and adds it to the index.

func (c *Client) RegisterWorker(ctx context.Context, w model.WorkerInfo) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.workerKey(w.Name), workerFields(w))
	pipe.Expire(ctx, c.workerKey(w.Name), workerKeyTTL)
	pipe.SAdd(ctx, c.workersKey(), w.Name)

	_, err := pipe.Exec(ctx)
	return err
}

// Heartbeat refreshes the worker's liveness advertisement.

func (c *Client) Heartbeat(ctx context.Context, name, state string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.workerKey(name), map[string]any{
		"state":          state,
		"last_heartbeat": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, c.workerKey(name), workerKeyTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// SetDeathDate marks a worker as gracefully terminating. Alive checks
// treat any worker with a death date as gone.

func (c *Client) SetDeathDate(ctx context.Context, name string) error {
	return c.rdb.HSet(ctx, c.workerKey(name),
		"death_date", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

// DeregisterWorker removes the record entirely on clean shutdown.

func (c *Client) DeregisterWorker(ctx context.Context, name string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.workerKey(name))
	pipe.SRem(ctx, c.workersKey(), name)

	_, err := pipe.Exec(ctx)
	return err
}

// AllWorkers lists worker records, optionally restricted to those
// attached to one queue. Stale index entries (expired records) are
// skipped.

func (c *Client) AllWorkers(ctx context.Context, q string) ([]model.WorkerInfo, error) {
	names, err := c.rdb.SMembers(ctx, c.workersKey()).Result()
	if err != nil {
		return nil, err
	}

	var out []model.WorkerInfo
	for _, name := range names {
		fields, err := c.rdb.HGetAll(ctx, c.workerKey(name)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}

		w := workerFromFields(fields)
		if q != "" && !slices.Contains(w.Queues, q) {
			continue
		}

		out = append(out, w)
	}

	return out, nil
}

// SendShutdownCommand asks the named worker to terminate gracefully.

func (c *Client) SendShutdownCommand(ctx context.Context, name string) error {
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, c.cmdKey(name), CommandShutdown)
	pipe.Expire(ctx, c.cmdKey(name), time.Minute)

	_, err := pipe.Exec(ctx)
	return err
}

// PopCommand checks the worker's own command channel without blocking.

func (c *Client) PopCommand(ctx context.Context, name string) (string, error) {
	cmd, err := c.rdb.LPop(ctx, c.cmdKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cmd, nil
}

func workerFields(w model.WorkerInfo) map[string]any {
	fields := map[string]any{
		"name":           w.Name,
		"hostname":       w.Hostname,
		"pid":            w.PID,
		"queues":         strings.Join(w.Queues, ","),
		"state":          w.State,
		"last_heartbeat": w.LastHeartbeat.UTC().Format(time.RFC3339Nano),
		"birth_date":     w.BirthDate.UTC().Format(time.RFC3339Nano),
	}
	if w.DeathDate != nil {
		fields["death_date"] = w.DeathDate.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func workerFromFields(fields map[string]string) model.WorkerInfo {
	w := model.WorkerInfo{
		Name:     fields["name"],
		Hostname: fields["hostname"],
		State:    fields["state"],
	}

	if v := fields["pid"]; v != "" {
		if pid, err := strconv.Atoi(v); err == nil {
			w.PID = pid
		}
	}

	if v := fields["queues"]; v != "" {
		w.Queues = strings.Split(v, ",")
	}

	if t, err := time.Parse(time.RFC3339Nano, fields["last_heartbeat"]); err == nil {
		w.LastHeartbeat = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["birth_date"]); err == nil {
		w.BirthDate = t
	}
	if v := fields["death_date"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			w.DeathDate = &t
		}
	}

	return w
}
