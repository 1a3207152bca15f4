package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/netpulse/netpulse/internal/driver"
	"github.com/netpulse/netpulse/internal/model"
)

// SessionSlot owns the process's one persistent device session. The
// worker main loop hands it to each job; the monitor goroutine holds a
// back reference, receives the stop signal, and reports a dead session
// on the shutdown channel.
//
// The mutex is the monitor mutex of the session discipline: every job's
// device operation holds it for its full duration, so the monitor and a
// job never touch the transport concurrently.

type SessionSlot struct {
	mu sync.Mutex

	session  driver.Session
	connArgs model.ConnectionArgs
	mon      *monitor

	// shutdown is read by the worker main loop; the monitor writes the
	// reason here when the session dies and the worker must go with it.
	shutdown chan string
}

func NewSessionSlot() *SessionSlot {
	return &SessionSlot{shutdown: make(chan string, 1)}
}

// Shutdown exposes the suicide channel to the worker main loop.

func (s *SessionSlot) Shutdown() <-chan string {
	return s.shutdown
}

// WithSession runs fn against a session for connArgs under the monitor
// mutex. A mismatched previous session is torn down first; a matching
// one is reused across jobs.

func (s *SessionSlot) WithSession(ctx context.Context, drv driver.Driver, connArgs model.ConnectionArgs, fn func(driver.Session) error) error {
	if err := s.ensure(ctx, drv, connArgs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.session)
}

func (s *SessionSlot) ensure(ctx context.Context, drv driver.Driver, connArgs model.ConnectionArgs) error {
	s.mu.Lock()
	reuse := s.session != nil && s.connArgs.Equal(connArgs)
	s.mu.Unlock()

	if reuse {
		slog.Default().InfoContext(ctx, "session.reuse", "host", connArgs.Host)
		return nil
	}

	s.teardown(ctx)

	slog.Default().InfoContext(ctx, "session.connect", "host", connArgs.Host)
	session, err := drv.Connect(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.session = session
	s.connArgs = connArgs
	s.mu.Unlock()

	if connArgs.Keepalive > 0 {
		s.startMonitor(session, connArgs)
	}

	return nil
}

// teardown stops the monitor, disconnects and clears the slot. The stop
// signal goes out before the mutex is taken so a monitor blocked on the
// lock exits via its double-check instead of deadlocking with us.

func (s *SessionSlot) teardown(ctx context.Context) {
	s.mu.Lock()
	mon := s.mon
	s.mon = nil
	s.mu.Unlock()

	if mon != nil {
		mon.stop()
		mon.wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		slog.Default().WarnContext(ctx, "session.replace", "old_host", s.connArgs.Host)
		if err := s.session.Close(); err != nil {
			slog.Default().ErrorContext(ctx, "session.disconnect_failed", "err", err)
		}
	}

	s.session = nil
	s.connArgs = model.ConnectionArgs{}
}

// Close releases the slot on worker shutdown.

func (s *SessionSlot) Close() {
	s.teardown(context.Background())
}
