package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/netpulse/netpulse/internal/cache"
	"github.com/netpulse/netpulse/internal/model"
)

// WorkerInspector lists workers and shuts them down.

type WorkerInspector interface {
	ListWorkers(ctx context.Context, q string) ([]model.WorkerInfo, error)
	KillWorker(ctx context.Context, name, q string) ([]string, error)
}

type WorkersHandler struct {
	inspector WorkerInspector

	// short TTL read cache: worker listings are polled by dashboards
	listCache *cache.Cache
}

func NewWorkersHandler(inspector WorkerInspector, listCache *cache.Cache) *WorkersHandler {
	return &WorkersHandler{inspector: inspector, listCache: listCache}
}

// GET /worker?queue=

func (h *WorkersHandler) List(ctx *gin.Context) {
	q := ctx.Query("queue")

	if h.listCache != nil {
		if v, ok := h.listCache.Get("workers:" + q); ok {
			ctx.JSON(http.StatusOK, gin.H{"data": v})
			return
		}
	}

	workers, err := h.inspector.ListWorkers(ctx.Request.Context(), q)
	if err != nil {
		RespondInternal(ctx, "Could not list workers")
		return
	}

	if workers == nil {
		workers = []model.WorkerInfo{}
	}

	if h.listCache != nil {
		h.listCache.Set("workers:"+q, workers)
	}

	ctx.JSON(http.StatusOK, gin.H{"data": workers})
}

// DELETE /worker?name= or /worker?queue=

func (h *WorkersHandler) Kill(ctx *gin.Context) {
	name := ctx.Query("name")
	q := ctx.Query("queue")

	if name == "" && q == "" {
		RespondBadRequest(ctx, "name or queue is required", nil)
		return
	}

	killed, err := h.inspector.KillWorker(ctx.Request.Context(), name, q)
	if err != nil {
		RespondInternal(ctx, "Could not kill workers")
		return
	}

	if h.listCache != nil {
		h.listCache.Clear()
	}

	ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"killed": killed}})
}
