package reasongate

import (
	"context"
	"time"
)

// RateLimiter decides whether a caller may issue another request.
type RateLimiter interface {
	Check(ctx context.Context, key string) (RateDecision, error)
}

// RateDecision is the outcome of a rate limit check.
type RateDecision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// BudgetGate admits or rejects a call against the caller's daily limits and
// concurrency slots.
type BudgetGate interface {
	CheckAndConsume(ctx context.Context, req BudgetRequest) (Admission, error)
}

// BudgetRequest is the input to a budget check.
type BudgetRequest struct {
	Provider string
	UseCase  UseCase
	UserID   string
	Settings CallerSettings
	Now      time.Time
}

// Admission is the outcome of a budget check. When Allowed is false, Err is
// one of ErrBudgetExceeded, ErrCapabilityUnavailable or ErrConcurrencyLimited.
type Admission struct {
	Allowed   bool
	Reason    string
	Remaining int64
	Overage   bool
	Err       error

	// Lease is non-nil when a concurrency slot was taken. It must be
	// released once the provider call completes.
	Lease Lease
}

// Lease is a held concurrency slot.
type Lease interface {
	Release(ctx context.Context) error
}

type allowAllLimiter struct{}

func (allowAllLimiter) Check(context.Context, string) (RateDecision, error) {
	return RateDecision{Allowed: true}, nil
}

type allowAllGate struct{}

func (allowAllGate) CheckAndConsume(context.Context, BudgetRequest) (Admission, error) {
	return Admission{Allowed: true, Remaining: -1}, nil
}
