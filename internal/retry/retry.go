// Package retry runs operations again when they fail with transient errors.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/copilot/internal/backoff"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// Policy decides how long to wait after each failed attempt.
	Policy backoff.Policy
}

// DefaultConfig returns three attempts with exponential backoff starting at 200ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Policy: backoff.Exponential{
			InitialMs: 200,
			MaxMs:     5000,
			Factor:    2,
			Jitter:    0.1,
		},
	}
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent retrying.
	Duration time.Duration
}

// Do executes op until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done.
func Do(ctx context.Context, config Config, op func(ctx context.Context) error) Result {
	start := time.Now()
	result := Result{}

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Policy == nil {
		config.Policy = DefaultConfig().Policy
	}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		err := op(ctx)
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if IsPermanent(err) || attempt == config.MaxAttempts {
			break
		}

		if err := backoff.Sleep(ctx, config.Policy, attempt); err != nil {
			result.Err = err
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func(ctx context.Context) (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func(ctx context.Context) error {
		var err error
		value, err = op(ctx)
		return err
	})
	return value, result
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
