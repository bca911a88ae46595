package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/gapq/internal/queue"
)

// statusFor maps queue errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, queue.ErrAlreadyDone):
		return http.StatusConflict
	case errors.Is(err, queue.ErrWorkerRequired), errors.Is(err, queue.ErrInvalidTTL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
