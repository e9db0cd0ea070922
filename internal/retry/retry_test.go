package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/copilot/internal/backoff"
)

var fastConfig = Config{MaxAttempts: 3, Policy: backoff.Fixed{Interval: time.Millisecond}}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig, func(ctx context.Context) error {
		calls++
		return nil
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1/1", calls, result.Attempts)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still down")
	result := Do(context.Background(), fastConfig, func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(result.Err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig, func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !IsPermanent(result.Err) {
		t.Errorf("expected permanent error, got %v", result.Err)
	}
}

func TestDoRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	result := Do(ctx, fastConfig, func(ctx context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDoWithValue(t *testing.T) {
	value, result := DoWithValue(context.Background(), fastConfig, func(ctx context.Context) (string, error) {
		return "SM123", nil
	})
	if result.Err != nil || value != "SM123" {
		t.Fatalf("got (%q, %v)", value, result.Err)
	}
}

func TestIsPermanentWrapped(t *testing.T) {
	err := fmt.Errorf("send: %w", Permanent(errors.New("invalid number")))
	if !IsPermanent(err) {
		t.Error("wrapped permanent error not detected")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
