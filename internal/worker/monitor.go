package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/netpulse/netpulse/internal/driver"
	"github.com/netpulse/netpulse/internal/model"
)

// monitor keeps one session healthy with periodic liveness probes. It
// runs until stopped or until the session dies, in which case it asks
// the worker to terminate: the controller can only learn the pinned
// worker is gone by its heartbeats stopping.

type monitor struct {
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func (m *monitor) stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *monitor) wait() {
	<-m.doneCh
}

func (m *monitor) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (s *SessionSlot) startMonitor(session driver.Session, connArgs model.ConnectionArgs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mon != nil {
		slog.Default().Info("monitor.already_running", "host", connArgs.Host)
		return
	}

	mon := &monitor{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	s.mon = mon

	interval := time.Duration(connArgs.Keepalive) * time.Second
	host := connArgs.Host

	go func() {
		defer close(mon.doneCh)

		suicide := false
		slog.Default().Info("monitor.started", "host", host)

	loop:
		for {
			select {
			case <-mon.stopCh:
				break loop
			case <-time.After(interval):
			}

			s.mu.Lock()

			// double check: a job may have torn the slot down while we
			// waited on the lock
			if mon.stopped() {
				s.mu.Unlock()
				break
			}

			if !session.IsAlive() {
				slog.Default().Warn("monitor.session_unhealthy", "host", host)
				suicide = true
				mon.stop()
				s.mu.Unlock()
				break
			}

			if junk, err := session.DrainBuffer(); err == nil && junk != "" {
				slog.Default().Debug("monitor.junk_in_buffer", "host", host, "junk", junk)
			}

			if err := session.WriteKeepalive(); err != nil {
				slog.Default().Warn("monitor.keepalive_failed", "host", host, "err", err)
				suicide = true
				mon.stop()
				s.mu.Unlock()
				break
			}

			s.mu.Unlock()
		}

		slog.Default().Debug("monitor.exiting", "host", host, "suicide", suicide)

		if suicide {
			slog.Default().Info("monitor.worker_suicide", "host", host)
			select {
			case s.shutdown <- "session lost: " + host:
			default:
			}
		}
	}()
}
