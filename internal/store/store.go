package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStore wraps every failure coming out of the shared store. Callers
// match with errors.Is.
var ErrStore = errors.New("store error")

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// checks store connectivity

func (c *Client) Ping(ctx context.Context) error {
	if err := c.redisdb.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

// Raw exposes the underlying client for the queue layer, which needs
// blocking pops and per-key TTL handling the typed accessors don't cover.

func (c *Client) Raw() *redis.Client {
	return c.redisdb
}

func (c *Client) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := c.redisdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("hget", err)
	}
	return v, true, nil
}

// HashGetMany is a single HMGET; absent fields come back as nil entries,
// order matching fields.

func (c *Client) HashGetMany(ctx context.Context, key string, fields []string) ([]*string, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	vals, err := c.redisdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, wrap("hmget", err)
	}

	out := make([]*string, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, wrap("hmget", fmt.Errorf("unexpected value type %T", v))
		}
		out[i] = &s
	}
	return out, nil
}

func (c *Client) HashSet(ctx context.Context, key, field, value string) error {
	if err := c.redisdb.HSet(ctx, key, field, value).Err(); err != nil {
		return wrap("hset", err)
	}
	return nil
}

func (c *Client) HashDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := c.redisdb.HDel(ctx, key, fields...).Err(); err != nil {
		return wrap("hdel", err)
	}
	return nil
}

// HashScan walks all field/value pairs of a hash via HSCAN.

func (c *Client) HashScan(ctx context.Context, key string) (map[string]string, error) {
	out := make(map[string]string)
	var cursor uint64

	for {
		kvs, next, err := c.redisdb.HScan(ctx, key, cursor, "", 256).Result()
		if err != nil {
			return nil, wrap("hscan", err)
		}

		for i := 0; i+1 < len(kvs); i += 2 {
			out[kvs[i]] = kvs[i+1]
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

func (c *Client) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.redisdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap("hgetall", err)
	}
	return m, nil
}

func (c *Client) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := c.redisdb.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, wrap("scan", err)
		}

		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// HashDelMulti deletes fields across several hashes in one atomic
// pipeline. Keys with no fields are skipped.

func (c *Client) HashDelMulti(ctx context.Context, dels map[string][]string) error {
	pipe := c.Pipeline()

	queued := false
	for key, fields := range dels {
		if len(fields) == 0 {
			continue
		}
		pipe.HashDel(ctx, key, fields...)
		queued = true
	}

	if !queued {
		return nil
	}

	return pipe.Execute(ctx)
}

// Pipeline opens a transactional pipeline. Mutations queued on it become
// observable only on Execute, which is atomic: either every queued
// command runs or the logical op is aborted with a StoreError.

func (c *Client) Pipeline() *Pipeline {
	return &Pipeline{pipe: c.redisdb.TxPipeline()}
}

type Pipeline struct {
	pipe redis.Pipeliner
}

func (p *Pipeline) HashDel(ctx context.Context, key string, fields ...string) {
	if len(fields) == 0 {
		return
	}
	p.pipe.HDel(ctx, key, fields...)
}

func (p *Pipeline) HashSet(ctx context.Context, key, field, value string) {
	p.pipe.HSet(ctx, key, field, value)
}

// Raw exposes the pipeliner so the queue layer can batch enqueues into a
// caller-owned pipeline.

func (p *Pipeline) Raw() redis.Pipeliner {
	return p.pipe
}

func (p *Pipeline) Execute(ctx context.Context) error {
	if _, err := p.pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return wrap("pipeline exec", err)
	}
	return nil
}
