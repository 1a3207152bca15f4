package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/netpulse/netpulse/internal/dispatch"
	"github.com/netpulse/netpulse/internal/queue"
)

// JobInspector lists, fetches and cancels jobs.

type JobInspector interface {
	GetJob(ctx context.Context, id string) (queue.Job, error)
	ListJobs(ctx context.Context, q string, status queue.Status, limit int) ([]queue.Job, error)
	CancelJob(ctx context.Context, id, q string) ([]string, error)
}

type JobsHandler struct {
	inspector JobInspector
}

func NewJobsHandler(inspector JobInspector) *JobsHandler {
	return &JobsHandler{inspector: inspector}
}

// GET /job?id=&queue=&status=&limit=

func (h *JobsHandler) List(ctx *gin.Context) {
	if id := ctx.Query("id"); id != "" {
		j, err := h.inspector.GetJob(ctx.Request.Context(), id)
		if errors.Is(err, queue.ErrJobNotFound) {
			RespondNotFound(ctx, "job not found")
			return
		}
		if err != nil {
			RespondInternal(ctx, "Could not fetch job")
			return
		}

		ctx.JSON(http.StatusOK, gin.H{"data": []dispatch.JobRef{dispatch.RefFromJob(j)}})
		return
	}

	status := queue.Status(ctx.Query("status"))
	if status != "" && !status.IsValid() {
		RespondBadRequest(ctx, "invalid status", gin.H{"status": string(status)})
		return
	}

	limit := 0
	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			RespondBadRequest(ctx, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	jobs, err := h.inspector.ListJobs(ctx.Request.Context(), ctx.Query("queue"), status, limit)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	refs := make([]dispatch.JobRef, 0, len(jobs))
	for _, j := range jobs {
		refs = append(refs, dispatch.RefFromJob(j))
	}

	ctx.JSON(http.StatusOK, gin.H{"data": refs})
}

// DELETE /job?id= or /job?queue=

func (h *JobsHandler) Cancel(ctx *gin.Context) {
	id := ctx.Query("id")
	q := ctx.Query("queue")

	if id == "" && q == "" {
		RespondBadRequest(ctx, "id or queue is required", nil)
		return
	}

	canceled, err := h.inspector.CancelJob(ctx.Request.Context(), id, q)
	if err != nil {
		RespondInternal(ctx, "Could not cancel jobs")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"canceled": canceled}})
}
