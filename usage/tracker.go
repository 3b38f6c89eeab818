// Package usage records per-provider, per-use-case call counters and an
// optional durable ledger of every provider attempt.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/baum777/reasongate"
)

const defaultRetention = 48 * time.Hour

// Counter fields stored under each day key.
const (
	fieldCalls            = "calls"
	fieldErrors           = "errors"
	fieldLatencyMs        = "latency_ms"
	fieldLatencyCount     = "latency_n"
	fieldPromptTokens     = "prompt_tokens"
	fieldCompletionTokens = "completion_tokens"
)

// Tracker keeps daily counters in a Store. It is a reasongate.Meter, so it
// observes every adapter result, and it answers the budget gate's usage
// reads. Counters roll over at the UTC day boundary because the date is
// part of the key.
type Tracker struct {
	store     reasongate.Store
	retention time.Duration
	keyPrefix string
	logger    *slog.Logger
	now       func() time.Time
}

var _ reasongate.Meter = (*Tracker)(nil)

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetention sets how long a day's counters are kept (default 48h).
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) { t.retention = d }
}

// WithKeyPrefix sets the store key prefix (default "usage:").
func WithKeyPrefix(prefix string) Option {
	return func(t *Tracker) { t.keyPrefix = prefix }
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store reasongate.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		retention: defaultRetention,
		keyPrefix: "usage:",
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Counter is one day of usage for a provider and use case.
type Counter struct {
	Provider         string
	UseCase          reasongate.UseCase
	Day              string
	Calls            int64
	Errors           int64
	LatencySumMs     int64
	LatencyCount     int64
	PromptTokens     int64
	CompletionTokens int64
}

// AvgLatency returns the mean latency of recorded calls.
func (c Counter) AvgLatency() time.Duration {
	if c.LatencyCount == 0 {
		return 0
	}
	return time.Duration(c.LatencySumMs/c.LatencyCount) * time.Millisecond
}

// ErrorRate returns errors/calls, or 0 without calls.
func (c Counter) ErrorRate() float64 {
	if c.Calls == 0 {
		return 0
	}
	return float64(c.Errors) / float64(c.Calls)
}

func (t *Tracker) key(provider string, uc reasongate.UseCase, day time.Time, field string) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", t.keyPrefix, provider, uc, reasongate.DayKey(day), field)
}

func (t *Tracker) OnRoute(reasongate.RouteEvent) {}

// OnResult records one provider attempt.
func (t *Tracker) OnResult(e reasongate.ResultEvent) {
	at := e.At
	if at.IsZero() {
		at = t.now()
	}
	if err := t.Record(context.Background(), e.Provider, e.UseCase, at, e.Duration, e.Usage, e.Error != nil); err != nil {
		t.logger.Warn("usage tracking failed",
			"provider", e.Provider,
			"use_case", e.UseCase,
			"error", err,
		)
	}
}

// Record adds one call to the counters for day.
func (t *Tracker) Record(ctx context.Context, provider string, uc reasongate.UseCase, day time.Time, latency time.Duration, u reasongate.Usage, failed bool) error {
	incr := func(field string, delta int64) error {
		if _, err := t.store.Incr(ctx, t.key(provider, uc, day, field), delta, t.retention); err != nil {
			return fmt.Errorf("usage: incr %s: %w", field, err)
		}
		return nil
	}

	if err := incr(fieldCalls, 1); err != nil {
		return err
	}
	if failed {
		if err := incr(fieldErrors, 1); err != nil {
			return err
		}
	}
	if err := incr(fieldLatencyMs, latency.Milliseconds()); err != nil {
		return err
	}
	if err := incr(fieldLatencyCount, 1); err != nil {
		return err
	}
	if u.PromptTokens > 0 {
		if err := incr(fieldPromptTokens, u.PromptTokens); err != nil {
			return err
		}
	}
	if u.CompletionTokens > 0 {
		if err := incr(fieldCompletionTokens, u.CompletionTokens); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns the number of recorded calls for a provider and use case on day.
func (t *Tracker) Calls(ctx context.Context, provider string, uc reasongate.UseCase, day time.Time) (int64, error) {
	return t.read(ctx, t.key(provider, uc, day, fieldCalls))
}

// Snapshot returns all counters for a provider and use case on day.
func (t *Tracker) Snapshot(ctx context.Context, provider string, uc reasongate.UseCase, day time.Time) (Counter, error) {
	c := Counter{Provider: provider, UseCase: uc, Day: reasongate.DayKey(day)}
	fields := []struct {
		name string
		dst  *int64
	}{
		{fieldCalls, &c.Calls},
		{fieldErrors, &c.Errors},
		{fieldLatencyMs, &c.LatencySumMs},
		{fieldLatencyCount, &c.LatencyCount},
		{fieldPromptTokens, &c.PromptTokens},
		{fieldCompletionTokens, &c.CompletionTokens},
	}
	for _, f := range fields {
		v, err := t.read(ctx, t.key(provider, uc, day, f.name))
		if err != nil {
			return Counter{}, err
		}
		*f.dst = v
	}
	return c, nil
}

func (t *Tracker) read(ctx context.Context, key string) (int64, error) {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("usage: read %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("usage: read %s: %w", key, err)
	}
	return v, nil
}
