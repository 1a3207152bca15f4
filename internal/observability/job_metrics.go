package observability

import (
	"sync/atomic"
	"time"
)

// JobMetrics keeps cheap in-process counters the worker logs
// periodically, independent of the prometheus registry.

type JobMetrics struct {
	claimed  atomic.Uint64
	finished atomic.Uint64
	failed   atomic.Uint64
	stopped  atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewJobMetrics() *JobMetrics {
	m := &JobMetrics{}
	m.durationMax.Store(0)
	return m
}

func (m *JobMetrics) IncClaimed() {
	m.claimed.Add(1)
}

func (m *JobMetrics) IncFinished() {
	m.finished.Add(1)
}

func (m *JobMetrics) IncFailed() {
	m.failed.Add(1)
}

func (m *JobMetrics) IncStopped() {
	m.stopped.Add(1)
}

func (m *JobMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	// max update

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type JobMetricsSnapshot struct {
	Claimed         uint64
	Finished        uint64
	Failed          uint64
	Stopped         uint64
	DurationCount   uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration
}

func (m *JobMetrics) Snapshot() JobMetricsSnapshot {
	count := m.durationCount.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(m.durationTotal.Load() / int64(count))
	}

	return JobMetricsSnapshot{
		Claimed:         m.claimed.Load(),
		Finished:        m.finished.Load(),
		Failed:          m.failed.Load(),
		Stopped:         m.stopped.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}
}
