// Package budget implements the daily quota and concurrency gate that runs
// before every provider call.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/baum777/reasongate"
)

// ReasonOverage is the admission reason when AdminFailOpen lets a call past
// an exhausted or undefined limit.
const ReasonOverage = "overage_allowed"

const defaultOverageRetention = 35 * 24 * time.Hour

// UsageReader reports how many calls a provider and use case have served
// on a day. *usage.Tracker satisfies it.
type UsageReader interface {
	Calls(ctx context.Context, provider string, uc reasongate.UseCase, day time.Time) (int64, error)
}

// Gate checks the daily limit first and the concurrency ceiling second.
type Gate struct {
	store            reasongate.Store
	usage            UsageReader
	tiers            map[string]reasongate.Tier
	slots            *Slots
	overageRetention time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

var _ reasongate.BudgetGate = (*Gate)(nil)

// Option configures a Gate.
type Option func(*Gate)

// WithSlots replaces the slot manager (default: NewSlots(store, 60s)).
func WithSlots(s *Slots) Option {
	return func(g *Gate) { g.slots = s }
}

// WithOverageRetention sets how long overage markers are kept.
func WithOverageRetention(d time.Duration) Option {
	return func(g *Gate) { g.overageRetention = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock overrides the clock used when a request carries no time.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a Gate over the given store, usage reader, and tier table.
func New(store reasongate.Store, usage UsageReader, tiers map[string]reasongate.Tier, opts ...Option) *Gate {
	g := &Gate{
		store:            store,
		usage:            usage,
		tiers:            tiers,
		overageRetention: defaultOverageRetention,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.slots == nil {
		g.slots = NewSlots(store, defaultSlotTTL)
	}
	return g
}

// CheckAndConsume decides whether the call may proceed. On admission with a
// concurrency ceiling, the returned Lease must be released when the call
// completes.
func (g *Gate) CheckAndConsume(ctx context.Context, req reasongate.BudgetRequest) (reasongate.Admission, error) {
	now := req.Now
	if now.IsZero() {
		now = g.now()
	}
	key := reasongate.BudgetKey(req.Provider, req.UseCase)
	failOpen := req.Settings.AdminFailOpen
	tier, tierOK := g.tiers[req.Settings.Tier]

	limit, defined := req.Settings.CustomBudgets[key]
	if !defined && tierOK {
		limit, defined = tier.Limits[key]
	}
	if !defined {
		if failOpen {
			return g.allowOverage(ctx, req, now, "no limit defined")
		}
		return reasongate.Admission{
			Reason: fmt.Sprintf("Capability %s not available on tier %q", key, req.Settings.Tier),
			Err:    reasongate.ErrCapabilityUnavailable,
		}, nil
	}

	used, err := g.usage.Calls(ctx, req.Provider, req.UseCase, now)
	if err != nil {
		return reasongate.Admission{}, fmt.Errorf("budget: read usage: %w", err)
	}
	if used >= limit {
		if failOpen {
			return g.allowOverage(ctx, req, now, "daily limit reached")
		}
		return reasongate.Admission{
			Reason: fmt.Sprintf("Daily limit exceeded for %s (%d/%d)", key, used, limit),
			Err:    reasongate.ErrBudgetExceeded,
		}, nil
	}

	adm := reasongate.Admission{Allowed: true, Remaining: limit - used}

	if req.UserID != "" && tierOK && tier.MaxConcurrentCalls > 0 {
		ok, err := g.slots.Acquire(ctx, req.UserID, tier.MaxConcurrentCalls)
		if err != nil {
			return reasongate.Admission{}, err
		}
		if !ok {
			if failOpen {
				return g.allowOverage(ctx, req, now, "concurrency limit reached")
			}
			return reasongate.Admission{
				Reason: fmt.Sprintf("Concurrency limit reached (max %d in flight)", tier.MaxConcurrentCalls),
				Err:    reasongate.ErrConcurrencyLimited,
			}, nil
		}
		adm.Lease = g.slots.Lease(req.UserID)
	}

	return adm, nil
}

func (g *Gate) allowOverage(ctx context.Context, req reasongate.BudgetRequest, now time.Time, cause string) (reasongate.Admission, error) {
	if _, err := g.store.Incr(ctx, g.overageKey(req.UserID, req.Provider, req.UseCase, now), 1, g.overageRetention); err != nil {
		return reasongate.Admission{}, fmt.Errorf("budget: record overage: %w", err)
	}
	g.logger.Warn("budget overage allowed",
		"user_id", req.UserID,
		"provider", req.Provider,
		"use_case", req.UseCase,
		"cause", cause,
	)
	return reasongate.Admission{Allowed: true, Reason: ReasonOverage, Overage: true}, nil
}

func (g *Gate) overageKey(userID, provider string, uc reasongate.UseCase, day time.Time) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("overage:%s:%s:%s:%s", userID, provider, uc, reasongate.DayKey(day))
}

// Overage returns how many calls were let through by fail-open for a user,
// provider and use case on day.
func (g *Gate) Overage(ctx context.Context, userID, provider string, uc reasongate.UseCase, day time.Time) (int64, error) {
	return readInt(ctx, g.store, g.overageKey(userID, provider, uc, day))
}
