package queue

import "errors"

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobOperation = errors.New("illegal job operation")
)
