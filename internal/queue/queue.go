package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/netpulse/netpulse/internal/store"
	"github.com/redis/go-redis/v9"
)

// Client is the queue-side view of the shared store: jobs, per-queue
// FIFO lists, status registries and worker records. It drives the raw
// connection for blocking pops and list ops the typed store accessors
// don't cover.

type Client struct {
	store  *store.Client
	rdb    *redis.Client
	prefix string
}

func NewClient(st *store.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "np"
	}
	return &Client{store: st, rdb: st.Raw(), prefix: prefix}
}

func (c *Client) JobKeyPrefix() string {
	return c.prefix + ":job:"
}

func (c *Client) jobKey(id string) string {
	return c.JobKeyPrefix() + id
}

func (c *Client) regKey(kind RegistryKind, q string) string {
	return fmt.Sprintf("%s:reg:%s:%s", c.prefix, kind, q)
}

// Enqueue persists the job record and pushes its id onto the queue. When
// pipe is non-nil both commands are batched into it and become
// observable only when the caller executes the pipeline.

func (c *Client) Enqueue(ctx context.Context, j Job, pipe redis.Pipeliner) error {
	payload, err := j.marshal()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", j.ID, err)
	}

	ownPipe := pipe == nil
	if ownPipe {
		pipe = c.rdb.TxPipeline()
	}

	pipe.Set(ctx, c.jobKey(j.ID), payload, time.Duration(j.TTL)*time.Second)
	pipe.RPush(ctx, j.Queue, j.ID)

	if ownPipe {
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("enqueue %s: %w", j.ID, err)
		}
	}

	return nil
}

// EnqueueMany submits all jobs in a single pipeline round-trip.

func (c *Client) EnqueueMany(ctx context.Context, js []Job) error {
	pipe := c.rdb.TxPipeline()

	for _, j := range js {
		if err := c.Enqueue(ctx, j, pipe); err != nil {
			return err
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}

	return nil
}

func (c *Client) FetchJob(ctx context.Context, id string) (Job, error) {
	data, err := c.rdb.Get(ctx, c.jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}

	return unmarshalJob(data)
}

// FetchJobs loads many jobs in one MGET, silently skipping missing ids.

func (c *Client) FetchJobs(ctx context.Context, ids []string) ([]Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.jobKey(id)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}

		j, err := unmarshalJob(s)
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

func (c *Client) saveJob(ctx context.Context, j Job) error {
	payload, err := j.marshal()
	if err != nil {
		return err
	}

	// KeepTTL: status changes must not reset the record's expiry
	return c.rdb.Set(ctx, c.jobKey(j.ID), payload, redis.KeepTTL).Err()
}

// QueuedJobIDs lists the ids currently waiting on a queue, in order.

func (c *Client) QueuedJobIDs(ctx context.Context, q string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	return c.rdb.LRange(ctx, q, 0, stop).Result()
}

func (c *Client) QueueLength(ctx context.Context, q string) (int64, error) {
	return c.rdb.LLen(ctx, q).Result()
}

// AllJobIDs scans the job keyspace by prefix.

func (c *Client) AllJobIDs(ctx context.Context) ([]string, error) {
	prefix := c.JobKeyPrefix()

	keys, err := c.store.KeysWithPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(prefix):])
	}

	return ids, nil
}

// CancelJob cancels a job still in queued state. Anything else is an
// illegal transition; started jobs must be preempted by killing their
// worker instead.

func (c *Client) CancelJob(ctx context.Context, id string) error {
	j, err := c.FetchJob(ctx, id)
	if err != nil {
		return err
	}

	if j.Status != StatusQueued {
		return fmt.Errorf("%w: cannot cancel a job in %q state", ErrJobOperation, j.Status)
	}

	now := time.Now().UTC()
	j.Status = StatusCanceled
	j.EndedAt = &now

	if err := c.saveJob(ctx, j); err != nil {
		return err
	}

	return c.rdb.LRem(ctx, j.Queue, 1, j.ID).Err()
}

type RegistryKind string

const (
	RegistryStarted  RegistryKind = "started"
	RegistryFinished RegistryKind = "finished"
	RegistryFailed   RegistryKind = "failed"
)

func RegistryKindForStatus(s Status) (RegistryKind, bool) {
	switch s {
	case StatusStarted:
		return RegistryStarted, true
	case StatusFinished:
		return RegistryFinished, true
	case StatusFailed:
		return RegistryFailed, true
	default:
		return "", false
	}
}

// RegistryJobIDs lists job ids recorded for one status on one queue.

func (c *Client) RegistryJobIDs(ctx context.Context, kind RegistryKind, q string) ([]string, error) {
	return c.rdb.SMembers(ctx, c.regKey(kind, q)).Result()
}

// MarkStarted flips a queued job to started: the in-queue ttl no longer
// applies, and the job enters the queue's started registry.

func (c *Client) MarkStarted(ctx context.Context, j Job) (Job, error) {
	now := time.Now().UTC()
	j.Status = StatusStarted
	j.StartedAt = &now

	payload, err := j.marshal()
	if err != nil {
		return Job{}, err
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.jobKey(j.ID), payload, redis.KeepTTL)
	pipe.Persist(ctx, c.jobKey(j.ID))
	pipe.SAdd(ctx, c.regKey(RegistryStarted, j.Queue), j.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return Job{}, err
	}

	return j, nil
}

func (c *Client) markTerminal(ctx context.Context, j Job, reg RegistryKind, ttlSecs int) error {
	payload, err := j.marshal()
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.jobKey(j.ID), payload, redis.KeepTTL)
	pipe.Expire(ctx, c.jobKey(j.ID), time.Duration(ttlSecs)*time.Second)
	pipe.SRem(ctx, c.regKey(RegistryStarted, j.Queue), j.ID)
	pipe.SAdd(ctx, c.regKey(reg, j.Queue), j.ID)
	pipe.Expire(ctx, c.regKey(reg, j.Queue), time.Duration(ttlSecs)*time.Second)

	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) MarkFinished(ctx context.Context, j Job, result []byte) error {
	now := time.Now().UTC()
	j.Status = StatusFinished
	j.Result = result
	j.EndedAt = &now

	return c.markTerminal(ctx, j, RegistryFinished, j.ResultTTL)
}

func (c *Client) MarkFailed(ctx context.Context, j Job, errMsg string) error {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = errMsg
	j.EndedAt = &now

	return c.markTerminal(ctx, j, RegistryFailed, j.FailureTTL)
}

func (c *Client) MarkStopped(ctx context.Context, j Job) error {
	now := time.Now().UTC()
	j.Status = StatusStopped
	j.EndedAt = &now

	return c.markTerminal(ctx, j, RegistryFailed, j.FailureTTL)
}

// UpdateMeta persists only the meta slot of a job, used by failure
// callbacks to record the captured error.

func (c *Client) UpdateMeta(ctx context.Context, id string, meta Meta) error {
	j, err := c.FetchJob(ctx, id)
	if err != nil {
		return err
	}

	j.Meta = meta
	return c.saveJob(ctx, j)
}

// Dequeue blocks on one or more queues for up to timeout and claims the
// oldest id. Returns ErrJobNotFound when nothing arrived in time.

func (c *Client) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (Job, error) {
	res, err := c.rdb.BLPop(ctx, timeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}

	// res = [queue, id]
	if len(res) != 2 {
		return Job{}, fmt.Errorf("unexpected blpop reply: %v", res)
	}

	j, err := c.FetchJob(ctx, res[1])
	if err != nil {
		return Job{}, err
	}

	return j, nil
}
