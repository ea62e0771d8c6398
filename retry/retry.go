// Package retry wraps outbound calls whose failures are worth a second attempt, such as
// the operational alert webhook. The tournament backend is never called through it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds backoff settings.
type Config struct {
	MaxAttempts  int           // attempts including the first
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // growth factor between delays
}

// DefaultConfig suits a best-effort webhook: a couple of quick retries, then give up.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable decides whether err warrants another attempt.
type IsRetryable func(error) bool

// ErrExhausted is wrapped by the error returned once every attempt has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// WithRetry runs fn until it succeeds, returns a non-retryable error, the attempts run out
// or ctx is done.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay
	attempts := max(config.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	if !isRetryable(lastErr) {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// Do is WithRetry for calls without a result.
func Do(ctx context.Context, config Config, isRetryable IsRetryable, fn func(ctx context.Context) error) error {
	_, err := WithRetry(ctx, config, isRetryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
