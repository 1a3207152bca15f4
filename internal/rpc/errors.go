package rpc

import "errors"

var (
	ErrInvalidFuncRef  = errors.New("invalid func ref")
	ErrInvalidPayload  = errors.New("invalid rpc payload")
	ErrPayloadMismatch = errors.New("payload type mismatch for func ref")
)
