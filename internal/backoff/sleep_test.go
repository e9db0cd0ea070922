package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepWithContextCompletes(t *testing.T) {
	start := time.Now()
	if err := SleepWithContext(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("slept %v, want at least 10ms", elapsed)
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSleepZeroDuration(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSleepNilPolicy(t *testing.T) {
	if err := Sleep(context.Background(), nil, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
