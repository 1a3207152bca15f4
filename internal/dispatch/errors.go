package dispatch

import "errors"

var (
	// ErrWorkerUnavailable means no alive worker or node could serve
	// the request. The only error that escapes the pinned assignment
	// loop once retries are exhausted.
	ErrWorkerUnavailable = errors.New("no available worker")

	// ErrArgument is a caller-side contract violation: mismatched
	// batch lengths, missing host, unknown strategy.
	ErrArgument = errors.New("invalid argument")
)
