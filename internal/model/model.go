package model

import (
	"encoding/json"
	"time"
)

type QueueStrategy string

const (
	StrategyFIFO   QueueStrategy = "fifo"
	StrategyPinned QueueStrategy = "pinned"
)

func (s QueueStrategy) IsValid() bool {
	switch s {
	case StrategyFIFO, StrategyPinned:
		return true
	default:
		return false
	}
}

// NodeInfo describes one executor node. The node worker owns its own row
// in the node info map; identity is by hostname.

type NodeInfo struct {
	Hostname string `json:"hostname"`
	Count    int    `json:"count"`
	Capacity int    `json:"capacity"`
	Queue    string `json:"queue"`
}

func (n NodeInfo) Equal(other NodeInfo) bool {
	return n.Hostname == other.Hostname
}

func (n NodeInfo) HasCapacity() bool {
	return n.Count < n.Capacity
}

// ConnectionArgs carries everything a driver needs to reach a device.
// Field checking is loose here; drivers enforce what they need.

type ConnectionArgs struct {
	DeviceType string `json:"device_type,omitempty"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`

	// Keepalive > 0 enables the session monitor on pinned workers,
	// probing the transport every Keepalive seconds.
	Keepalive int `json:"keepalive,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Equal compares the fields that identify a device session. A change in
// any of them forces the pinned worker to re-dial.

func (c ConnectionArgs) Equal(other ConnectionArgs) bool {
	return c.DeviceType == other.DeviceType &&
		c.Host == other.Host &&
		c.Port == other.Port &&
		c.Username == other.Username &&
		c.Password == other.Password &&
		c.Keepalive == other.Keepalive
}

type WebHookMethod string

const (
	WebHookGET    WebHookMethod = "GET"
	WebHookPOST   WebHookMethod = "POST"
	WebHookPUT    WebHookMethod = "PUT"
	WebHookDELETE WebHookMethod = "DELETE"
	WebHookPATCH  WebHookMethod = "PATCH"
)

func (m WebHookMethod) IsValid() bool {
	switch m {
	case WebHookGET, WebHookPOST, WebHookPUT, WebHookDELETE, WebHookPATCH:
		return true
	default:
		return false
	}
}

type WebHook struct {
	Name    string            `json:"name"`
	URL     string            `json:"url" binding:"required,url"`
	Method  WebHookMethod     `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	// Auth is (username, password) for basic auth.
	Auth    *[2]string `json:"auth,omitempty"`
	Timeout float64    `json:"timeout,omitempty" binding:"omitempty,gte=0.5,lte=120"`
}

// PullingRequest reads state off a device: run commands, fetch config.

type PullingRequest struct {
	Driver         string          `json:"driver" binding:"required"`
	ConnectionArgs ConnectionArgs  `json:"connection_args" binding:"required"`
	QueueStrategy  QueueStrategy   `json:"queue_strategy"`
	TTL            int             `json:"ttl,omitempty"`
	Commands       []string        `json:"commands" binding:"required,min=1"`
	Args           json.RawMessage `json:"args,omitempty"`
	EnableMode     bool            `json:"enable_mode,omitempty"`
	WebHook        *WebHook        `json:"webhook,omitempty"`
}

// PushingRequest applies configuration to a device.

type PushingRequest struct {
	Driver         string          `json:"driver" binding:"required"`
	ConnectionArgs ConnectionArgs  `json:"connection_args" binding:"required"`
	QueueStrategy  QueueStrategy   `json:"queue_strategy"`
	TTL            int             `json:"ttl,omitempty"`
	Config         []string        `json:"config" binding:"required,min=1"`
	Args           json.RawMessage `json:"args,omitempty"`
	EnableMode     bool            `json:"enable_mode,omitempty"`
	Save           bool            `json:"save,omitempty"`
	WebHook        *WebHook        `json:"webhook,omitempty"`
}

// JobError is the (type, value) pair captured by the default failure
// callback into job meta.

type JobError struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type ResultType int

const (
	ResultSuccessful ResultType = 1
	ResultFailed     ResultType = 2
	ResultStopped    ResultType = 3
	ResultRetried    ResultType = 4
)

type JobResult struct {
	Type   ResultType      `json:"type"`
	Retval json.RawMessage `json:"retval,omitempty"`
	Error  *JobError       `json:"error,omitempty"`
}

// WorkerInfo is the rendered view of a live worker record.

type WorkerInfo struct {
	Name          string     `json:"name"`
	Hostname      string     `json:"hostname"`
	PID           int        `json:"pid"`
	Queues        []string   `json:"queues"`
	State         string     `json:"state"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	BirthDate     time.Time  `json:"birth_date"`
	DeathDate     *time.Time `json:"death_date,omitempty"`
}
