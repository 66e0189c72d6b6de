package valuation

import (
	"context"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/pkg/logger"
)

// RetryConfig bounds the retry of a whole document batch on conflicts.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryConfig returns production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 5, Backoff: 50 * time.Millisecond}
}

// retry runs fn until it succeeds, fails with a non-retryable error or the
// attempts are exhausted. Only CONCURRENT_MODIFICATION is retried; the delay
// doubles after every attempt.
func retry(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	attempts := max(cfg.Attempts, 1)
	delay := cfg.Backoff

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !apperror.IsConcurrentModification(err) || attempt >= attempts {
			break
		}

		logger.Warn(ctx, "conflicting update, retrying",
			"operation", op,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	if err != nil && apperror.IsConcurrentModification(err) {
		if appErr, ok := apperror.AsAppError(err); ok {
			appErr.WithDetail("attempts", attempts)
		}
	}
	return err
}
