package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env  string
	Port int

	Redis  RedisConfig
	Job    JobConfig
	Worker WorkerConfig
	API    APIConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key layout. All shared controller/worker state lives under these keys.
	HostToNodeMapKey string
	NodeInfoMapKey   string
	KeyPrefix        string
}

type JobConfig struct {
	// Timeout is the hard wall-clock limit on job execution.
	Timeout time.Duration
	// TTL is how long a job may sit in a queue before it starts.
	TTL time.Duration
	// ResultTTL is retention after a terminal state (failures included).
	ResultTTL time.Duration
}

type WorkerConfig struct {
	// TTL is the max heartbeat gap for an idle worker.
	TTL       time.Duration
	Scheduler string

	FIFOQueue       string
	HostQueuePrefix string
}

type APIConfig struct {
	Keys       []string
	HealthAddr string
	OTLPAddr   string
}

func Load() (Config, error) {
	cfg := Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 9000),
		Redis: RedisConfig{
			Addr:             getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getEnvInt("REDIS_DB", 0),
			HostToNodeMapKey: getEnv("REDIS_HOST_TO_NODE_MAP", "np:host_to_node_map"),
			NodeInfoMapKey:   getEnv("REDIS_NODE_INFO_MAP", "np:node_info_map"),
			KeyPrefix:        getEnv("REDIS_KEY_PREFIX", "np"),
		},
		Job: JobConfig{
			Timeout:   getEnvSeconds("JOB_TIMEOUT", 300*time.Second),
			TTL:       getEnvSeconds("JOB_TTL", 300*time.Second),
			ResultTTL: getEnvSeconds("JOB_RESULT_TTL", 300*time.Second),
		},
		Worker: WorkerConfig{
			TTL:             getEnvSeconds("WORKER_TTL", 60*time.Second),
			Scheduler:       getEnv("WORKER_SCHEDULER", "least_load"),
			FIFOQueue:       getEnv("FIFO_QUEUE", "np:q:fifo"),
			HostQueuePrefix: getEnv("HOST_QUEUE_PREFIX", "np:q:host:"),
		},
		API: APIConfig{
			Keys:       splitNonEmpty(getEnv("API_KEYS", "")),
			HealthAddr: getEnv("HEALTH_ADDR", ":8081"),
			OTLPAddr:   getEnv("OTLP_ADDR", "localhost:4317"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Job.ResultTTL < 0 {
		return fmt.Errorf("config: JOB_RESULT_TTL must be >= 0, got %s", c.Job.ResultTTL)
	}

	// a job must be allowed to live in queue at least as long as it may run
	if c.Job.TTL < c.Job.Timeout {
		return fmt.Errorf("config: JOB_TTL (%s) must be >= JOB_TIMEOUT (%s)", c.Job.TTL, c.Job.Timeout)
	}

	return nil
}

// FIFOQueueName is the single shared queue used by the FIFO strategy.

func (c Config) FIFOQueueName() string {
	return c.Worker.FIFOQueue
}

// HostQueueName derives the per-host pinned queue name.

func (c Config) HostQueueName(host string) string {
	return c.Worker.HostQueuePrefix + host
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

// getEnvSeconds reads a duration. Bare integers are seconds.

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}

		d, err := time.ParseDuration(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return d
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
