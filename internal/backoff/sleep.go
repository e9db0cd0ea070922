package backoff

import (
	"context"
	"time"
)

// SleepWithContext sleeps for the specified duration, respecting context cancellation.
// Returns nil if the sleep completed, or ctx.Err() if the context was cancelled.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sleep waits for the delay the policy assigns to attempt.
func Sleep(ctx context.Context, policy Policy, attempt int) error {
	if policy == nil {
		return ctx.Err()
	}
	return SleepWithContext(ctx, policy.Delay(attempt))
}
