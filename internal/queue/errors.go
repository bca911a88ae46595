package queue

import "errors"

// Sentinel errors for queue operations.
var (
	ErrNotFound       = errors.New("gap not found in queue")
	ErrNotOwner       = errors.New("not the lease owner")
	ErrAlreadyDone    = errors.New("gap already done")
	ErrWorkerRequired = errors.New("worker id is required")
	ErrInvalidTTL     = errors.New("lease ttl must be positive")
)
