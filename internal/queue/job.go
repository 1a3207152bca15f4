package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/netpulse/netpulse/internal/model"
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
	StatusCanceled Status = "canceled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusStarted, StatusFinished, StatusFailed, StatusStopped, StatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal reports whether a job can no longer change state.

func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusStopped, StatusCanceled:
		return true
	default:
		return false
	}
}

// Meta is the free-form slot riding on every job. Failure callbacks
// store the captured (type, value) pair here for diagnostics.

type Meta struct {
	Error *model.JobError `json:"error"`
}

// Job is the persisted record of one unit of work. It lives in the store
// under its own key until its result ttl expires.

type Job struct {
	ID     string          `json:"id"`
	Queue  string          `json:"queue"`
	Func   string          `json:"func"`
	Kwargs json.RawMessage `json:"kwargs,omitempty"`
	Meta   Meta            `json:"meta"`

	// Timeout limits execution wall-clock; TTL bounds time in queue
	// before start; ResultTTL/FailureTTL bound retention afterwards.
	// All in seconds.
	Timeout    int `json:"timeout"`
	TTL        int `json:"ttl"`
	ResultTTL  int `json:"result_ttl"`
	FailureTTL int `json:"failure_ttl"`

	OnSuccess Callback `json:"on_success"`
	OnFailure Callback `json:"on_failure"`

	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

type NewJobParams struct {
	Queue      string
	Func       string
	Kwargs     json.RawMessage
	Timeout    int
	TTL        int
	ResultTTL  int
	FailureTTL int
	OnSuccess  Callback
	OnFailure  Callback
}

func NewJob(p NewJobParams) Job {
	return Job{
		ID:         uuid.NewString(),
		Queue:      p.Queue,
		Func:       p.Func,
		Kwargs:     p.Kwargs,
		Meta:       Meta{Error: nil},
		Timeout:    p.Timeout,
		TTL:        p.TTL,
		ResultTTL:  p.ResultTTL,
		FailureTTL: p.FailureTTL,
		OnSuccess:  p.OnSuccess,
		OnFailure:  p.OnFailure,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (j Job) marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJob(data string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return Job{}, err
	}
	return j, nil
}
