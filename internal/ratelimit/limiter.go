// Package ratelimit provides token-bucket rate limiting for webhook callers and background sweeps.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/copilot/internal/backoff"
)

// Config configures rate limiting behavior.
//
// Requests tokens are granted per Window; the bucket starts full so a caller
// may spend the whole allowance at once.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
	// Requests is the number of requests allowed per window.
	Requests int `yaml:"requests"`
	// Window is the period over which Requests are replenished.
	Window time.Duration `yaml:"window"`
}

// DefaultConfig allows 100 requests every 15 minutes.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Requests: 100,
		Window:   15 * time.Minute,
	}
}

func (c Config) normalized() Config {
	if c.Requests <= 0 {
		c.Requests = 100
	}
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	return c
}

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewBucket creates a full token bucket.
func NewBucket(config Config) *Bucket {
	config = config.normalized()
	return &Bucket{
		tokens:     float64(config.Requests),
		maxTokens:  float64(config.Requests),
		refillRate: float64(config.Requests) / config.Window.Seconds(),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Tokens returns the current number of available tokens.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// WaitTime returns how long to wait before a request would be allowed.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		if b.Allow() {
			return nil
		}
		if err := backoff.SleepWithContext(ctx, b.WaitTime()); err != nil {
			return err
		}
	}
}

// Limiter keeps one bucket per key (client IP, phone number).
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	config  Config
	maxKeys int
}

// NewLimiter creates a new keyed rate limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  config,
		maxKeys: 10000,
	}
}

// Allow checks if a request for the given key should be allowed.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.bucket(key).Allow()
}

// WaitTime returns how long key must wait before its next request.
func (l *Limiter) WaitTime(key string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	return l.bucket(key).WaitTime()
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) bucket(key string) *Bucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()
	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket, exists = l.buckets[key]; exists {
		return bucket
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}
	bucket = NewBucket(l.config)
	l.buckets[key] = bucket
	return bucket
}

// prune drops buckets that have refilled to near capacity (must be called with lock held).
func (l *Limiter) prune() {
	for key, bucket := range l.buckets {
		if bucket.Tokens() >= bucket.maxTokens*0.9 {
			delete(l.buckets, key)
		}
	}
}

// CompositeKey creates a rate limit key from multiple parts.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
