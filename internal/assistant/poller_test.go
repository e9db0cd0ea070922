package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/copilot/internal/backoff"
)

func TestInterpret(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   Action
	}{
		{RunStatusQueued, ActionWait},
		{RunStatusInProgress, ActionWait},
		{RunStatusCancelling, ActionWait},
		{RunStatus("something_new"), ActionWait},
		{RunStatusRequiresAction, ActionDispatch},
		{RunStatusCompleted, ActionComplete},
		{RunStatusFailed, ActionFail},
		{RunStatusCancelled, ActionFail},
		{RunStatusExpired, ActionFail},
		{RunStatusIncomplete, ActionFail},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := Interpret(tt.status); got != tt.want {
				t.Errorf("Interpret(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestNeedsCancel(t *testing.T) {
	stale := []RunStatus{RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction}
	settled := []RunStatus{RunStatusCompleted, RunStatusCancelled, RunStatusFailed, RunStatusExpired, RunStatusCancelling}
	for _, s := range stale {
		if !NeedsCancel(s) {
			t.Errorf("NeedsCancel(%q) = false", s)
		}
	}
	for _, s := range settled {
		if NeedsCancel(s) {
			t.Errorf("NeedsCancel(%q) = true", s)
		}
	}
}

func TestPoller_TimesOutAfterExactlyMaxAttempts(t *testing.T) {
	provider := newFakeProvider()
	provider.script("run_1", RunStatusInProgress)
	poller := NewPoller(provider, instantPoll(3), nil, nil, nil)

	_, err := poller.Wait(context.Background(), "thread_1", "run_1", nil)
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("err = %v, want ErrRunTimeout", err)
	}
	if got := provider.retrievals("run_1"); got != 3 {
		t.Errorf("retrievals = %d, want 3", got)
	}
}

func TestPoller_FailureStatusesEndImmediately(t *testing.T) {
	for _, status := range []RunStatus{RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete} {
		t.Run(string(status), func(t *testing.T) {
			provider := newFakeProvider()
			provider.scriptRun(Run{ID: "run_1", Status: status, LastError: "boom"})
			poller := NewPoller(provider, instantPoll(5), nil, nil, nil)

			_, err := poller.Wait(context.Background(), "thread_1", "run_1", nil)
			var failed *RunFailedError
			if !errors.As(err, &failed) {
				t.Fatalf("err = %v, want *RunFailedError", err)
			}
			if failed.Status != status || failed.LastError != "boom" {
				t.Errorf("failed = %+v", failed)
			}
			if got := provider.retrievals("run_1"); got != 1 {
				t.Errorf("retrievals = %d, want 1", got)
			}
		})
	}
}

func TestPoller_DispatchesThenCompletes(t *testing.T) {
	provider := newFakeProvider()
	provider.script("run_1", RunStatusQueued, RunStatusRequiresAction, RunStatusInProgress, RunStatusCompleted)
	poller := NewPoller(provider, instantPoll(10), nil, nil, nil)

	actions := 0
	run, err := poller.Wait(context.Background(), "thread_1", "run_1", func(ctx context.Context, run *Run) error {
		actions++
		return nil
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if run.Status != RunStatusCompleted {
		t.Errorf("status = %q", run.Status)
	}
	if actions != 1 {
		t.Errorf("actions = %d, want 1", actions)
	}
	if got := provider.retrievals("run_1"); got != 4 {
		t.Errorf("retrievals = %d, want 4", got)
	}
}

func TestPoller_ToolRoundsConsumeAttempts(t *testing.T) {
	provider := newFakeProvider()
	provider.script("run_1", RunStatusRequiresAction)
	poller := NewPoller(provider, instantPoll(2), nil, nil, nil)

	actions := 0
	_, err := poller.Wait(context.Background(), "thread_1", "run_1", func(ctx context.Context, run *Run) error {
		actions++
		return nil
	})
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("err = %v, want ErrRunTimeout", err)
	}
	if actions != 2 {
		t.Errorf("actions = %d, want 2", actions)
	}
}

func TestPoller_ActionErrorStops(t *testing.T) {
	provider := newFakeProvider()
	provider.script("run_1", RunStatusRequiresAction)
	poller := NewPoller(provider, instantPoll(5), nil, nil, nil)

	boom := errors.New("submit failed")
	_, err := poller.Wait(context.Background(), "thread_1", "run_1", func(ctx context.Context, run *Run) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got := provider.retrievals("run_1"); got != 1 {
		t.Errorf("retrievals = %d, want 1", got)
	}
}

func TestPoller_RespectsContext(t *testing.T) {
	provider := newFakeProvider()
	provider.script("run_1", RunStatusInProgress)
	poller := NewPoller(provider, PollerConfig{MaxAttempts: 5, Policy: backoff.Fixed{Interval: time.Hour}}, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := poller.Wait(ctx, "thread_1", "run_1", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestPoller_WaitTerminal(t *testing.T) {
	provider := newFakeProvider()
	provider.script("run_1", RunStatusCancelling, RunStatusCancelling, RunStatusCancelled)
	poller := NewPoller(provider, instantPoll(5), nil, nil, nil)

	run, err := poller.WaitTerminal(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("WaitTerminal: %v", err)
	}
	if run.Status != RunStatusCancelled {
		t.Errorf("status = %q", run.Status)
	}

	provider.script("run_2", RunStatusCancelling)
	if _, err := poller.WaitTerminal(context.Background(), "thread_1", "run_2"); !errors.Is(err, ErrRunTimeout) {
		t.Errorf("err = %v, want ErrRunTimeout", err)
	}
	if got := provider.retrievals("run_2"); got != 5 {
		t.Errorf("retrievals = %d, want 5", got)
	}
}
