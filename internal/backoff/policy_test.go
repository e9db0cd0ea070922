package backoff

import (
	"testing"
	"time"
)

func TestFixedDelay(t *testing.T) {
	p := Fixed{Interval: time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := p.Delay(attempt); got != time.Second {
			t.Errorf("Delay(%d) = %v, want 1s", attempt, got)
		}
	}
	if got := (Fixed{Interval: -time.Second}).Delay(1); got != 0 {
		t.Errorf("negative interval should clamp to 0, got %v", got)
	}
}

func TestLinearDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Linear
		attempt int
		want    time.Duration
	}{
		{name: "first attempt", policy: Linear{Base: time.Second}, attempt: 1, want: time.Second},
		{name: "third attempt", policy: Linear{Base: time.Second}, attempt: 3, want: 3 * time.Second},
		{name: "zero attempt treated as first", policy: Linear{Base: time.Second}, attempt: 0, want: time.Second},
		{name: "capped", policy: Linear{Base: time.Second, Max: 5 * time.Second}, attempt: 9, want: 5 * time.Second},
		{name: "uncapped when max is zero", policy: Linear{Base: time.Millisecond}, attempt: 20, want: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExponentialDelayWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      Exponential
		attempt     int
		randomValue float64
		want        time.Duration
	}{
		{
			name:    "first attempt with no jitter",
			policy:  Exponential{InitialMs: 100, MaxMs: 10000, Factor: 2},
			attempt: 1,
			want:    100 * time.Millisecond,
		},
		{
			name:    "third attempt quadruples",
			policy:  Exponential{InitialMs: 100, MaxMs: 10000, Factor: 2},
			attempt: 3,
			want:    400 * time.Millisecond,
		},
		{
			name:    "clamped to max",
			policy:  Exponential{InitialMs: 100, MaxMs: 500, Factor: 2},
			attempt: 10,
			want:    500 * time.Millisecond,
		},
		{
			name:        "jitter at max random",
			policy:      Exponential{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.1},
			attempt:     1,
			randomValue: 1.0,
			want:        110 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.DelayWithRand(tt.attempt, tt.randomValue); got != tt.want {
				t.Errorf("DelayWithRand(%d, %v) = %v, want %v", tt.attempt, tt.randomValue, got, tt.want)
			}
		})
	}
}

func TestDefaultExponential(t *testing.T) {
	p := DefaultExponential()
	if p.InitialMs != 100 || p.MaxMs != 30000 || p.Factor != 2 || p.Jitter != 0.1 {
		t.Errorf("unexpected default policy: %+v", p)
	}
}
