package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOptions contains configuration for retry behavior.
type RetryOptions struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// GetNotificationRetryOptions returns retry options for notification delivery.
// maxAttempts counts the first try, so zero or one means no retries.
func GetNotificationRetryOptions(maxAttempts uint64) RetryOptions {
	retries := uint64(0)
	if maxAttempts > 1 {
		retries = maxAttempts - 1
	}

	return RetryOptions{
		MaxElapsedTime:  2 * time.Minute,
		InitialInterval: time.Second,
		MaxInterval:     15 * time.Second,
		MaxRetries:      retries,
	}
}

// GetReversalRetryOptions returns retry options for moderation reversal calls.
func GetReversalRetryOptions() RetryOptions {
	return RetryOptions{
		MaxElapsedTime:  30 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetries:      3,
	}
}

// WithRetry executes the given operation with exponential backoff using provided options.
// Wrap an error with backoff.Permanent to stop retrying early.
func WithRetry[T any](ctx context.Context, operation func() (T, error), opts RetryOptions) (T, error) {
	var result T

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(opts.MaxElapsedTime),
		backoff.WithInitialInterval(opts.InitialInterval),
		backoff.WithMaxInterval(opts.MaxInterval),
	), opts.MaxRetries)

	backoffOperation := func() error {
		var err error
		result, err = operation()
		return err
	}

	err := backoff.Retry(backoffOperation, backoff.WithContext(b, ctx))
	return result, err
}
