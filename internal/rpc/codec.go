package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/netpulse/netpulse/internal/model"
)

func EncodePayload(f FuncRef, payload any) ([]byte, error) {
	if !f.IsValid() {
		return nil, ErrInvalidFuncRef
	}

	switch f {
	case FuncPull:
		if !isPayload[PullPayload](payload) {
			return nil, ErrPayloadMismatch
		}
	case FuncPush:
		if !isPayload[PushPayload](payload) {
			return nil, ErrPayloadMismatch
		}
	case FuncSpawn:
		if !isPayload[SpawnPayload](payload) {
			return nil, ErrPayloadMismatch
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return b, nil
}

// DecodePayload unmarshals raw kwargs into the typed payload for the ref.
func DecodePayload(f FuncRef, raw []byte) (any, error) {
	if !f.IsValid() {
		return nil, ErrInvalidFuncRef
	}
	if len(raw) == 0 {
		return nil, ErrInvalidPayload
	}

	switch f {
	case FuncPull:
		return decodeAs[PullPayload](raw)
	case FuncPush:
		return decodeAs[PushPayload](raw)
	case FuncSpawn:
		return decodeAs[SpawnPayload](raw)
	default:
		return nil, ErrInvalidFuncRef
	}
}

// ValidatePayload performs minimal checks on decoded payloads.
func ValidatePayload(f FuncRef, payload any) error {
	switch f {
	case FuncPull:
		p, ok := asPayload[PullPayload](payload)
		if !ok {
			return ErrPayloadMismatch
		}
		if p.Req.ConnectionArgs.Host == "" && p.Req.QueueStrategy == model.StrategyPinned {
			return fmt.Errorf("%w: pinned pull without host", ErrInvalidPayload)
		}
		if len(p.Req.Commands) == 0 {
			return fmt.Errorf("%w: pull without commands", ErrInvalidPayload)
		}
		return nil

	case FuncPush:
		p, ok := asPayload[PushPayload](payload)
		if !ok {
			return ErrPayloadMismatch
		}
		if len(p.Req.Config) == 0 {
			return fmt.Errorf("%w: push without config", ErrInvalidPayload)
		}
		return nil

	case FuncSpawn:
		p, ok := asPayload[SpawnPayload](payload)
		if !ok {
			return ErrPayloadMismatch
		}
		if p.QName == "" || p.Host == "" {
			return fmt.Errorf("%w: spawn needs q_name and host", ErrInvalidPayload)
		}
		return nil

	default:
		return ErrInvalidFuncRef
	}
}

func isPayload[T any](payload any) bool {
	_, ok := asPayload[T](payload)
	return ok
}

func asPayload[T any](payload any) (T, bool) {
	switch v := payload.(type) {
	case T:
		return v, true
	case *T:
		return *v, true
	default:
		var zero T
		return zero, false
	}
}

func decodeAs[T any](raw []byte) (any, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}
