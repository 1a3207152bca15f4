package rpc

import (
	"errors"
	"testing"

	"github.com/netpulse/netpulse/internal/model"
)

func TestEncodeDecode_Spawn(t *testing.T) {
	payload := SpawnPayload{QName: "np:q:host:10.0.0.2", Host: "10.0.0.2"}

	b, err := EncodePayload(FuncSpawn, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	decoded, err := DecodePayload(FuncSpawn, b)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(SpawnPayload)
	if !ok {
		t.Fatalf("expected SpawnPayload, got %T", decoded)
	}

	if p.QName != payload.QName || p.Host != payload.Host {
		t.Fatalf("round trip mismatch: %+v", p)
	}
}

func TestEncodeDecode_Pull(t *testing.T) {
	payload := PullPayload{Req: model.PullingRequest{
		Driver:         "cli",
		ConnectionArgs: model.ConnectionArgs{Host: "10.0.0.1", Username: "admin"},
		QueueStrategy:  model.StrategyFIFO,
		Commands:       []string{"show version"},
	}}

	b, err := EncodePayload(FuncPull, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	decoded, err := DecodePayload(FuncPull, b)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(PullPayload)
	if !ok {
		t.Fatalf("expected PullPayload, got %T", decoded)
	}

	if p.Req.ConnectionArgs.Host != "10.0.0.1" || len(p.Req.Commands) != 1 {
		t.Fatalf("round trip mismatch: %+v", p.Req)
	}
}

func TestEncodePayload_TypeMismatch(t *testing.T) {
	_, err := EncodePayload(FuncPull, SpawnPayload{QName: "q", Host: "h"})
	if !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
}

func TestEncodePayload_InvalidRef(t *testing.T) {
	_, err := EncodePayload(FuncRef("reboot"), SpawnPayload{})
	if !errors.Is(err, ErrInvalidFuncRef) {
		t.Fatalf("expected ErrInvalidFuncRef, got %v", err)
	}
}

func TestDecodePayload_Empty(t *testing.T) {
	_, err := DecodePayload(FuncPull, nil)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestValidatePayload_SpawnRequiredFields(t *testing.T) {
	if err := ValidatePayload(FuncSpawn, SpawnPayload{QName: "", Host: "h"}); err == nil {
		t.Fatalf("expected error for spawn without q_name")
	}

	if err := ValidatePayload(FuncSpawn, SpawnPayload{QName: "q", Host: "h"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePayload_PinnedPullNeedsHost(t *testing.T) {
	err := ValidatePayload(FuncPull, PullPayload{Req: model.PullingRequest{
		QueueStrategy: model.StrategyPinned,
		Commands:      []string{"show version"},
	}})
	if err == nil {
		t.Fatalf("expected error for pinned pull without host")
	}
}
