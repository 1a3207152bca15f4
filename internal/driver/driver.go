package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/netpulse/netpulse/internal/model"
)

// ErrDriver wraps failures raised inside device I/O. Jobs failing with
// it get the (type, value) captured into their meta by the default
// failure callback.
var ErrDriver = errors.New("driver error")

// Session is one live transport to a device. Implementations are not
// concurrency safe; the worker serializes access through the monitor
// mutex.

type Session interface {
	// IsAlive probes the transport without disturbing device state.
	IsAlive() bool

	// DrainBuffer reads and discards pending input bytes, returning
	// whatever junk was found.
	DrainBuffer() (string, error)

	// WriteKeepalive sends the driver's keepalive byte sequence.
	WriteKeepalive() error

	Close() error
}

// Driver talks one protocol to one device. Built per request via the
// plugin registry; a pinned worker keeps the session between jobs.

type Driver interface {
	Connect(ctx context.Context) (Session, error)

	// Send runs commands and maps each to its output.
	Send(ctx context.Context, session Session, commands []string) (map[string]string, error)

	// Config applies statements: send, commit where the platform
	// supports it, save when requested. Outputs in that order.
	Config(ctx context.Context, session Session, statements []string) ([]string, error)

	// Disconnect tears the session down. With reset=false the driver
	// may retain it for reuse.
	Disconnect(session Session, reset bool) error
}

// Factory builds drivers from requests.

type Factory interface {
	FromPullingRequest(req model.PullingRequest) (Driver, error)
	FromPushingRequest(req model.PushingRequest) (Driver, error)
}

var factories = map[string]Factory{}

func Register(name string, f Factory) {
	factories[name] = f
}

func Lookup(name string) (Factory, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown driver %q", ErrDriver, name)
	}
	return f, nil
}
