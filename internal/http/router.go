package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/netpulse/netpulse/internal/cache"
	"github.com/netpulse/netpulse/internal/config"
	"github.com/netpulse/netpulse/internal/http/handlers"
	"github.com/netpulse/netpulse/internal/http/middlewares"
	"github.com/netpulse/netpulse/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries everything the router wires into handlers. The caller
// (cmd/controller) builds the graph.

type Deps struct {
	Dispatcher handlers.DeviceDispatcher
	Jobs       handlers.JobInspector
	Workers    handlers.WorkerInspector
	Prom         *observability.Prom
	PromRegistry *prometheus.Registry
	ReadyCheck   func() error
}

func NewRouter(cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.MaxBodyBytes(1 << 20)) // 1MB max body
	r.Use(middlewares.RequireJSON())

	// health
	h := handlers.NewHealthHandler(deps.ReadyCheck)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.PromRegistry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.PromRegistry, promhttp.HandlerOpts{})))
	}

	deviceHandler := handlers.NewDeviceHandler(deps.Dispatcher)
	jobsHandler := handlers.NewJobsHandler(deps.Jobs)
	workersHandler := handlers.NewWorkersHandler(deps.Workers, cache.New(2*time.Second))

	bulkLimiter := middlewares.NewRateLimiter(30, 1*time.Minute)

	api := r.Group("/", middlewares.APIKey(cfg.API.Keys))
	{
		api.POST("/device/pull", deviceHandler.Pull)
		api.POST("/device/push", deviceHandler.Push)
		api.POST("/device/bulk/pull", bulkLimiter.RateLimiterMiddleware(middlewares.KeyByIP), deviceHandler.BulkPull)
		api.POST("/device/bulk/push", bulkLimiter.RateLimiterMiddleware(middlewares.KeyByIP), deviceHandler.BulkPush)

		api.GET("/job", jobsHandler.List)
		api.DELETE("/job", jobsHandler.Cancel)

		api.GET("/worker", workersHandler.List)
		api.DELETE("/worker", workersHandler.Kill)
	}

	return r
}
