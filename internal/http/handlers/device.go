package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/netpulse/netpulse/internal/dispatch"
	"github.com/netpulse/netpulse/internal/model"
	"github.com/netpulse/netpulse/internal/store"
)

// DeviceDispatcher is the dispatcher surface the device endpoints use.

type DeviceDispatcher interface {
	PullFromDevice(ctx context.Context, req model.PullingRequest) (dispatch.JobRef, error)
	PushToDevice(ctx context.Context, req model.PushingRequest) (dispatch.JobRef, error)
	PullFromBatchDevices(ctx context.Context, reqs []model.PullingRequest) ([]dispatch.JobRef, []string, error)
	PushToBatchDevices(ctx context.Context, reqs []model.PushingRequest) ([]dispatch.JobRef, []string, error)
}

type DeviceHandler struct {
	dispatcher DeviceDispatcher
}

func NewDeviceHandler(dispatcher DeviceDispatcher) *DeviceHandler {
	return &DeviceHandler{dispatcher: dispatcher}
}

// POST /device/pull

func (h *DeviceHandler) Pull(ctx *gin.Context) {
	var req model.PullingRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if !normalizeStrategy(ctx, &req.QueueStrategy) {
		return
	}

	ref, err := h.dispatcher.PullFromDevice(ctx.Request.Context(), req)
	if err != nil {
		respondDispatchError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"data": ref})
}

// POST /device/push

func (h *DeviceHandler) Push(ctx *gin.Context) {
	var req model.PushingRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if !normalizeStrategy(ctx, &req.QueueStrategy) {
		return
	}

	ref, err := h.dispatcher.PushToDevice(ctx.Request.Context(), req)
	if err != nil {
		respondDispatchError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"data": ref})
}

// POST /device/bulk/pull

func (h *DeviceHandler) BulkPull(ctx *gin.Context) {
	var reqs []model.PullingRequest
	if !BindJSON(ctx, &reqs) {
		return
	}

	if len(reqs) == 0 {
		RespondBadRequest(ctx, "empty batch", nil)
		return
	}

	for i := range reqs {
		if !normalizeStrategy(ctx, &reqs[i].QueueStrategy) {
			return
		}
	}

	succeeded, failed, err := h.dispatcher.PullFromBatchDevices(ctx.Request.Context(), reqs)
	if err != nil {
		respondDispatchError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"succeeded": succeeded,
		"failed":    failed,
	}})
}

// POST /device/bulk/push

func (h *DeviceHandler) BulkPush(ctx *gin.Context) {
	var reqs []model.PushingRequest
	if !BindJSON(ctx, &reqs) {
		return
	}

	if len(reqs) == 0 {
		RespondBadRequest(ctx, "empty batch", nil)
		return
	}

	for i := range reqs {
		if !normalizeStrategy(ctx, &reqs[i].QueueStrategy) {
			return
		}
	}

	succeeded, failed, err := h.dispatcher.PushToBatchDevices(ctx.Request.Context(), reqs)
	if err != nil {
		respondDispatchError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"succeeded": succeeded,
		"failed":    failed,
	}})
}

func normalizeStrategy(ctx *gin.Context, s *model.QueueStrategy) bool {
	if *s == "" {
		*s = model.StrategyFIFO
	}

	if !s.IsValid() {
		RespondBadRequest(ctx, "invalid queue_strategy", gin.H{"queue_strategy": string(*s)})
		return false
	}

	return true
}

func respondDispatchError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrWorkerUnavailable):
		RespondServiceUnavailable(ctx, "worker_unavailable", err.Error())
	case errors.Is(err, dispatch.ErrArgument):
		RespondBadRequest(ctx, err.Error(), nil)
	case errors.Is(err, store.ErrStore):
		RespondServiceUnavailable(ctx, "store_unavailable", "shared store unreachable")
	default:
		RespondInternal(ctx, "Could not dispatch job")
	}
}
