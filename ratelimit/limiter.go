package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBackendUnavailable wraps failures of a shared limiter backend.
	ErrBackendUnavailable = errors.New("ratelimit: backend unavailable")
	// ErrInvalidArgs is returned for a non-positive limit or window.
	ErrInvalidArgs = errors.New("ratelimit: limit and window must be positive")
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted request leaves the window.
	ResetAt time.Time
}

// Limiter is a sliding-log rate limiter. Only allowed calls are recorded.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return ErrInvalidArgs
	}
	return nil
}
