package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/netpulse/netpulse/internal/dispatch"
	"github.com/netpulse/netpulse/internal/model"
)

type fakeDispatcher struct {
	pullErr error
	lastReq model.PullingRequest
}

func (f *fakeDispatcher) PullFromDevice(_ context.Context, req model.PullingRequest) (dispatch.JobRef, error) {
	f.lastReq = req
	if f.pullErr != nil {
		return dispatch.JobRef{}, f.pullErr
	}
	return dispatch.JobRef{ID: "j1", Queue: "fifoQ", Status: "queued"}, nil
}

func (f *fakeDispatcher) PushToDevice(_ context.Context, _ model.PushingRequest) (dispatch.JobRef, error) {
	return dispatch.JobRef{}, nil
}

func (f *fakeDispatcher) PullFromBatchDevices(_ context.Context, _ []model.PullingRequest) ([]dispatch.JobRef, []string, error) {
	return nil, nil, nil
}

func (f *fakeDispatcher) PushToBatchDevices(_ context.Context, _ []model.PushingRequest) ([]dispatch.JobRef, []string, error) {
	return nil, nil, nil
}

func pullEndpoint(d DeviceDispatcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/device/pull", NewDeviceHandler(d).Pull)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPull_HappyPath(t *testing.T) {
	d := &fakeDispatcher{}
	r := pullEndpoint(d)

	w := doJSON(r, http.MethodPost, "/device/pull", `{
		"driver": "cli",
		"connection_args": {"host": "10.0.0.1", "username": "admin", "password": "admin"},
		"commands": ["show version"]
	}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// fifo is the default strategy
	if d.lastReq.QueueStrategy != model.StrategyFIFO {
		t.Fatalf("expected fifo default, got %s", d.lastReq.QueueStrategy)
	}
}

func TestPull_MissingDriver(t *testing.T) {
	r := pullEndpoint(&fakeDispatcher{})

	w := doJSON(r, http.MethodPost, "/device/pull", `{
		"connection_args": {"host": "10.0.0.1"},
		"commands": ["show version"]
	}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPull_InvalidStrategy(t *testing.T) {
	r := pullEndpoint(&fakeDispatcher{})

	w := doJSON(r, http.MethodPost, "/device/pull", `{
		"driver": "cli",
		"connection_args": {"host": "10.0.0.1"},
		"commands": ["show version"],
		"queue_strategy": "round_robin"
	}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPull_WorkerUnavailable(t *testing.T) {
	d := &fakeDispatcher{pullErr: fmt.Errorf("%w: no alive FIFO worker", dispatch.ErrWorkerUnavailable)}
	r := pullEndpoint(d)

	w := doJSON(r, http.MethodPost, "/device/pull", `{
		"driver": "cli",
		"connection_args": {"host": "10.0.0.1"},
		"commands": ["show version"]
	}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
