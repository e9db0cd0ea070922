// Package backoff computes delays between polling and retry attempts.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy returns the delay to wait after the given attempt.
// Attempt numbers start at 1.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Fixed waits the same interval after every attempt.
type Fixed struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (p Fixed) Delay(int) time.Duration {
	if p.Interval < 0 {
		return 0
	}
	return p.Interval
}

// Linear grows the delay by Base for every attempt: Base, 2*Base, 3*Base...
// A positive Max caps the delay.
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base*attempt clamped to Max.
func (p Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base * time.Duration(attempt)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exponential grows the delay geometrically with optional jitter.
type Exponential struct {
	// InitialMs is the delay after the first attempt in milliseconds.
	InitialMs float64
	// MaxMs caps the delay in milliseconds.
	MaxMs float64
	// Factor is applied once per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// Delay computes initialMs * factor^(attempt-1) plus jitter, clamped to MaxMs.
func (p Exponential) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-supplied random value in [0.0, 1.0).
func (p Exponential) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.MaxMs > 0 {
		total = math.Min(p.MaxMs, total)
	}
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultExponential returns 100ms doubling up to 30s with 10% jitter.
func DefaultExponential() Exponential {
	return Exponential{
		InitialMs: 100,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}
