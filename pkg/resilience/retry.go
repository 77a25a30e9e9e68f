package resilience

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping strategy.NextDelay between
// failures. Returns nil on the first success, the context error if the
// caller gives up waiting, otherwise the last error fn returned.
func Retry(ctx context.Context, attempts int, strategy BackoffStrategy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(strategy.NextDelay(attempt - 1)):
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
