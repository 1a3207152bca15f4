package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	// Dispatcher
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	NodeEvictions    prometheus.Counter
	SpawnsLaunched   prometheus.Counter

	// Jobs (worker)
	JobDuration  *prometheus.HistogramVec
	JobResults   *prometheus.CounterVec
	JobsInFlight prometheus.Gauge
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netpulse",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "netpulse",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "netpulse",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netpulse",
				Subsystem: "dispatch",
				Name:      "total",
				Help:      "Dispatch outcomes by strategy and result.",
			},
			[]string{"strategy", "result"}, // result=enqueued|failed|unavailable
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "netpulse",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Dispatch latency by strategy.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"strategy"},
		),
		NodeEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "netpulse",
				Subsystem: "dispatch",
				Name:      "node_evictions_total",
				Help:      "Dead nodes force-deleted by dispatchers.",
			},
		),
		SpawnsLaunched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "netpulse",
				Subsystem: "dispatch",
				Name:      "spawns_launched_total",
				Help:      "Pinned worker spawn jobs enqueued.",
			},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "netpulse",
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Job execution duration by func and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"func", "result"}, // result=finished|failed
		),
		JobResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netpulse",
				Subsystem: "jobs",
				Name:      "results_total",
				Help:      "Job outcomes by func and result.",
			},
			[]string{"func", "result"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "netpulse",
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Current number of executing jobs (per process)",
			},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DispatchTotal, p.DispatchDuration, p.NodeEvictions, p.SpawnsLaunched,
		p.JobDuration, p.JobResults, p.JobsInFlight,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
