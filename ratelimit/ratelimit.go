// Package ratelimit implements the per-caller fixed-window admission gate.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/baum777/reasongate"
)

// Limiter admits at most max requests per window for each caller key. The
// window is a single expiring counter in the Store, so a shared Store gives
// a shared limit.
type Limiter struct {
	store     reasongate.Store
	max       int64
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

var _ reasongate.RateLimiter = (*Limiter)(nil)

// Option configures a Limiter.
type Option func(*Limiter)

// WithKeyPrefix sets the store key prefix (default "ratelimit:").
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) { l.keyPrefix = prefix }
}

// WithClock overrides the clock used to compute RetryAfter.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter allowing limit requests per window.
func New(store reasongate.Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:     store,
		max:       int64(limit),
		window:    window,
		keyPrefix: "ratelimit:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FromConfig creates a Limiter from the rate_limit config section.
func FromConfig(store reasongate.Store, c reasongate.RateLimitConfig, opts ...Option) *Limiter {
	return New(store, c.MaxRequests, c.Window, opts...)
}

// Check counts one request against key's current window.
func (l *Limiter) Check(ctx context.Context, key string) (reasongate.RateDecision, error) {
	c, err := l.store.Incr(ctx, l.keyPrefix+key, 1, l.window)
	if err != nil {
		return reasongate.RateDecision{}, fmt.Errorf("ratelimit: %w", err)
	}
	if c.Value <= l.max {
		return reasongate.RateDecision{Allowed: true}, nil
	}

	retryAfter := l.window
	if !c.ExpiresAt.IsZero() {
		retryAfter = c.ExpiresAt.Sub(l.now())
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return reasongate.RateDecision{
		Allowed:    false,
		Reason:     fmt.Sprintf("rate limit exceeded: %d requests per %s", l.max, l.window),
		RetryAfter: retryAfter,
	}, nil
}
