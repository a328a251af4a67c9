package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// SendErrKind classifies delivery failures.
type SendErrKind int

const (
	// KindRateLimited carries the server-communicated retry delay. The
	// dispatcher retries once internally; callers see it only when that
	// retry was rate-limited again.
	KindRateLimited SendErrKind = iota
	// KindRejected means the destination is gone or the bot lost access.
	// Non-retryable; the cycle should abort its remaining items.
	KindRejected
	// KindTransient is retryable at the next natural opportunity.
	KindTransient
)

type SendError struct {
	Kind       SendErrKind
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("send rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	case KindRejected:
		return fmt.Sprintf("send rejected: %v", e.Err)
	default:
		return fmt.Sprintf("send failed: %v", e.Err)
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a non-retryable destination failure.
func IsRejected(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Kind == KindRejected
}
