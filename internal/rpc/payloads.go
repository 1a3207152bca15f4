package rpc

import "github.com/netpulse/netpulse/internal/model"

// PullPayload carries the full pulling request so the worker can build
// the driver from it without another store round-trip.
type PullPayload struct {
	Req model.PullingRequest `json:"req"`
}

// PushPayload carries the full pushing request.
type PushPayload struct {
	Req model.PushingRequest `json:"req"`
}

// SpawnPayload is consumed by the node worker: fork a pinned worker
// listening on QName for Host.
type SpawnPayload struct {
	QName string `json:"q_name"`
	Host  string `json:"host"`
}
