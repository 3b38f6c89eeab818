// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/baum777/reasongate"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns 3 attempts, 500ms base delay, 8s max delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// FromConfig converts the retry section of a reasongate.Config.
func FromConfig(c reasongate.RetryConfig) Policy {
	return Policy{MaxAttempts: c.MaxAttempts, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay}
}

// Jitter is the relative spread applied to computed delays.
const Jitter = 0.2

type options struct {
	timer  backoff.Timer
	logger *slog.Logger
	notify func(err error, delay time.Duration)
}

// Option configures a single Do call.
type Option func(*options)

// WithTimer replaces the timer used for backoff sleeps.
func WithTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

// WithLogger logs each scheduled retry at trace level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotify registers a callback invoked before each backoff sleep.
func WithNotify(fn func(err error, delay time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// Do runs op until it succeeds, fails with an error isRetryable rejects, or
// MaxAttempts attempts have failed, and returns the last error. A nil
// isRetryable uses reasongate.IsRetryable. Delays grow as
// BaseDelay*2^(attempt-1) capped at MaxDelay with ±20% jitter; a provider
// Retry-After carried by the error replaces the computed delay. Sleeps end
// early when ctx is done.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), isRetryable func(error) bool, opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if isRetryable == nil {
		isRetryable = reasongate.IsRetryable
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.MaxInterval = p.MaxDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = Jitter
	expo.MaxElapsedTime = 0

	hinted := &retryAfterBackOff{BackOff: expo}
	b := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(attempts-1)), ctx)

	var (
		result  T
		attempt int
	)
	operation := func() error {
		attempt++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		hinted.last = err
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, d time.Duration) {
		if o.logger != nil {
			o.logger.Log(ctx, reasongate.LevelTrace, "retry scheduled",
				"attempt", attempt,
				"max_attempts", attempts,
				"delay_ms", d.Milliseconds(),
				"error", err,
			)
		}
		if o.notify != nil {
			o.notify(err, d)
		}
	}

	if err := backoff.RetryNotifyWithTimer(operation, b, notify, o.timer); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// retryAfterBackOff defers to a provider Retry-After hint when the last
// error carries one.
type retryAfterBackOff struct {
	backoff.BackOff
	last error
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if d, ok := reasongate.RetryAfterOf(b.last); ok {
		return d
	}
	return next
}

func (b *retryAfterBackOff) Reset() {
	b.last = nil
	b.BackOff.Reset()
}
