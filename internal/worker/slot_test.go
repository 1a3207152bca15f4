package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/netpulse/netpulse/internal/driver"
	"github.com/netpulse/netpulse/internal/model"
)

type fakeSession struct {
	alive      atomic.Bool
	keepalives atomic.Int32
	closed     atomic.Bool

	// busy is set while a job body runs; transport methods fail the
	// test if they observe it, proving the mutual exclusion discipline
	busy atomic.Bool
	t    *testing.T
}

func newFakeSession(t *testing.T) *fakeSession {
	s := &fakeSession{t: t}
	s.alive.Store(true)
	return s
}

func (s *fakeSession) IsAlive() bool {
	if s.busy.Load() {
		s.t.Errorf("monitor probed the transport while a job held it")
	}
	return s.alive.Load()
}

func (s *fakeSession) DrainBuffer() (string, error) {
	return "", nil
}

func (s *fakeSession) WriteKeepalive() error {
	if s.busy.Load() {
		s.t.Errorf("monitor wrote keepalive while a job held the transport")
	}
	s.keepalives.Add(1)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeDriver struct {
	mu       sync.Mutex
	sessions []*fakeSession
	t        *testing.T

	sendResult map[string]string
	sendErr    error
}

func (d *fakeDriver) Connect(_ context.Context) (driver.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newFakeSession(d.t)
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDriver) Send(_ context.Context, _ driver.Session, _ []string) (map[string]string, error) {
	return d.sendResult, d.sendErr
}

func (d *fakeDriver) Config(_ context.Context, _ driver.Session, _ []string) ([]string, error) {
	return nil, nil
}

func (d *fakeDriver) Disconnect(session driver.Session, reset bool) error {
	if reset {
		return session.Close()
	}
	return nil
}

func (d *fakeDriver) connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDriver) lastSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func TestSessionSlot_ReusesMatchingSession(t *testing.T) {
	slot := NewSessionSlot()
	defer slot.Close()

	drv := &fakeDriver{t: t}
	args := model.ConnectionArgs{Host: "10.0.0.1", Username: "admin"}

	for i := 0; i < 3; i++ {
		err := slot.WithSession(context.Background(), drv, args, func(driver.Session) error { return nil })
		if err != nil {
			t.Fatalf("WithSession error: %v", err)
		}
	}

	if drv.connects() != 1 {
		t.Fatalf("expected a single connect for matching conn args, got %d", drv.connects())
	}
}

func TestSessionSlot_ReplacesMismatchedSession(t *testing.T) {
	slot := NewSessionSlot()
	defer slot.Close()

	drv := &fakeDriver{t: t}

	err := slot.WithSession(context.Background(), drv,
		model.ConnectionArgs{Host: "10.0.0.1"}, func(driver.Session) error { return nil })
	if err != nil {
		t.Fatalf("WithSession error: %v", err)
	}

	first := drv.lastSession()

	err = slot.WithSession(context.Background(), drv,
		model.ConnectionArgs{Host: "10.0.0.2"}, func(driver.Session) error { return nil })
	if err != nil {
		t.Fatalf("WithSession error: %v", err)
	}

	if drv.connects() != 2 {
		t.Fatalf("expected a new connect for new conn args, got %d", drv.connects())
	}
	if !first.closed.Load() {
		t.Fatalf("old session must be disconnected on replacement")
	}
}

func TestMonitor_SuicideOnDeadSession(t *testing.T) {
	slot := NewSessionSlot()
	defer slot.Close()

	drv := &fakeDriver{t: t}
	args := model.ConnectionArgs{Host: "10.0.0.1", Keepalive: 1}

	err := slot.WithSession(context.Background(), drv, args, func(driver.Session) error { return nil })
	if err != nil {
		t.Fatalf("WithSession error: %v", err)
	}

	// transport dies between jobs; the monitor must notice within
	// about one keepalive tick and ask the worker to terminate
	drv.lastSession().alive.Store(false)

	select {
	case reason := <-slot.Shutdown():
		if reason == "" {
			t.Fatalf("expected a shutdown reason")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("monitor did not signal suicide")
	}
}

func TestMonitor_KeepaliveWrites(t *testing.T) {
	slot := NewSessionSlot()
	defer slot.Close()

	drv := &fakeDriver{t: t}
	args := model.ConnectionArgs{Host: "10.0.0.1", Keepalive: 1}

	err := slot.WithSession(context.Background(), drv, args, func(driver.Session) error { return nil })
	if err != nil {
		t.Fatalf("WithSession error: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if drv.lastSession().keepalives.Load() == 0 {
		t.Fatalf("expected keepalive writes on a healthy session")
	}

	select {
	case reason := <-slot.Shutdown():
		t.Fatalf("healthy session must not trigger suicide: %s", reason)
	default:
	}
}

func TestMonitor_NeverTouchesTransportDuringJob(t *testing.T) {
	slot := NewSessionSlot()
	defer slot.Close()

	drv := &fakeDriver{t: t}
	args := model.ConnectionArgs{Host: "10.0.0.1", Keepalive: 1}

	// hold the monitor mutex across two keepalive intervals; the fake
	// session errors the test if the monitor gets through
	err := slot.WithSession(context.Background(), drv, args, func(s driver.Session) error {
		fs := s.(*fakeSession)
		fs.busy.Store(true)
		time.Sleep(2200 * time.Millisecond)
		fs.busy.Store(false)
		return nil
	})
	if err != nil {
		t.Fatalf("WithSession error: %v", err)
	}
}

func TestSessionSlot_CloseStopsMonitorWithoutSuicide(t *testing.T) {
	slot := NewSessionSlot()

	drv := &fakeDriver{t: t}
	args := model.ConnectionArgs{Host: "10.0.0.1", Keepalive: 1}

	err := slot.WithSession(context.Background(), drv, args, func(driver.Session) error { return nil })
	if err != nil {
		t.Fatalf("WithSession error: %v", err)
	}

	slot.Close()

	select {
	case reason := <-slot.Shutdown():
		t.Fatalf("clean teardown must not signal suicide: %s", reason)
	case <-time.After(1500 * time.Millisecond):
	}

	if !drv.lastSession().closed.Load() {
		t.Fatalf("session must be closed on slot close")
	}
}
