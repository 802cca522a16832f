package utils

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidMaxAttempts is returned when RetryWithBackoff is asked for fewer
// than one attempt.
var ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")

// RetryWithBackoff runs operation up to maxAttempts times, sleeping
// baseDelay * 2^(attempt-1) between attempts. Errors for which retryable
// returns false end the loop immediately. A nil retryable retries every error.
// The last error is returned when attempts are exhausted.
func RetryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, operation func() error) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := baseDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}
