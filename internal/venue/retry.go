package venue

import (
	"context"
	"errors"
	"time"
)

// WithRetry runs fn up to maxRetries+1 times with exponential backoff.
// Non-retryable order errors return immediately; exhaustion returns the last
// error. The caller decides what a stuck operation means.
func WithRetry(ctx context.Context, maxRetries int, backoffBase time.Duration, fn func() (Fill, error)) (Fill, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return Fill{}, NewTimeoutError("", "context cancelled during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		fill, err := fn()
		if err == nil {
			return fill, nil
		}
		lastErr = err

		var oe *OrderError
		if errors.As(err, &oe) && !oe.Retryable() {
			return Fill{}, err
		}
	}
	return Fill{}, lastErr
}
