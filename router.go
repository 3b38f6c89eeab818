package reasongate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Router binds use cases to providers and admits each call through the rate
// limiter and the budget gate before dispatching it.
type Router struct {
	cfg       Config
	providers map[string]Provider
	adapters  map[string]*Adapter
	limiter   RateLimiter
	gate      BudgetGate
	settings  SettingsSource
	meter     Meter
	health    *HealthTracker
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithRateLimiter sets the per-caller rate limiter.
func WithRateLimiter(l RateLimiter) Option {
	return func(r *Router) { r.limiter = l }
}

// WithBudgetGate sets the budget gate.
func WithBudgetGate(g BudgetGate) Option {
	return func(r *Router) { r.gate = g }
}

// WithSettings sets the caller settings source.
func WithSettings(s SettingsSource) Option {
	return func(r *Router) { r.settings = s }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides the clock used for budget checks.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a new Router with the given config and providers.
// Without options every caller is admitted, settings come from the config's
// users section, and events are discarded.
func NewRouter(cfg Config, providers []Provider, opts ...Option) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("reasongate: at least one provider is required")
	}
	if len(cfg.UseCases) == 0 {
		return nil, fmt.Errorf("reasongate: at least one use case is required")
	}

	provMap := make(map[string]Provider, len(providers))
	for _, p := range providers {
		provMap[p.Name()] = p
	}

	r := &Router{
		cfg:       cfg,
		providers: provMap,
		health:    NewHealthTracker(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.limiter == nil {
		r.limiter = allowAllLimiter{}
	}
	if r.gate == nil {
		r.gate = allowAllGate{}
	}
	if r.settings == nil {
		r.settings = cfg.Settings()
	}
	if r.meter == nil {
		r.meter = &noopMeter{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	r.adapters = make(map[string]*Adapter, len(provMap))
	for name, p := range provMap {
		pc := cfg.Providers[name]
		if pc.Auth.APIKey == "" {
			continue
		}
		r.adapters[name] = NewAdapter(p, pc.Auth, WithAdapterMeter(r.meter))
	}

	return r, nil
}

// HasCredential reports whether the provider bound to uc is registered and
// has a credential configured.
func (r *Router) HasCredential(uc UseCase) bool {
	b, ok := r.cfg.UseCases[uc]
	if !ok {
		return false
	}
	_, ok = r.adapters[b.Provider]
	return ok
}

// Route admits and dispatches one completion for the given use case.
// The concurrency slot taken by the budget gate is released on every exit
// path, including caller cancellation.
func (r *Router) Route(ctx context.Context, uc UseCase, req CompletionRequest, caller Caller) (CompletionResult, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	decision, err := r.limiter.Check(ctx, caller.Key())
	if err != nil {
		return CompletionResult{}, fmt.Errorf("reasongate: rate limiter: %w", err)
	}
	if !decision.Allowed {
		return CompletionResult{}, &RateLimitError{
			Key:        caller.Key(),
			Reason:     decision.Reason,
			RetryAfter: decision.RetryAfter,
		}
	}

	binding, ok := r.cfg.UseCases[uc]
	if !ok {
		return CompletionResult{}, &RouterError{Err: ErrUnknownUseCase, RequestID: requestID, UseCase: uc}
	}

	adapter, ok := r.adapters[binding.Provider]
	if !ok {
		return CompletionResult{}, &RouterError{
			Err:       ErrMissingCredential,
			RequestID: requestID,
			Provider:  binding.Provider,
			UseCase:   uc,
		}
	}

	settings, err := r.settings.CallerSettings(ctx, caller.UserID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("reasongate: caller settings: %w", err)
	}

	adm, err := r.gate.CheckAndConsume(ctx, BudgetRequest{
		Provider: binding.Provider,
		UseCase:  uc,
		UserID:   caller.UserID,
		Settings: settings,
		Now:      r.now(),
	})
	if err != nil {
		return CompletionResult{}, fmt.Errorf("reasongate: budget gate: %w", err)
	}
	if !adm.Allowed {
		return CompletionResult{}, &BudgetError{
			Provider: binding.Provider,
			UseCase:  uc,
			Reason:   adm.Reason,
			Err:      adm.Err,
		}
	}
	if adm.Lease != nil {
		defer r.release(ctx, adm.Lease, binding.Provider, uc)
	}

	if !r.health.Allow(binding.Provider) {
		return CompletionResult{}, &RouterError{
			Err:       ErrProviderUnavailable,
			RequestID: requestID,
			Provider:  binding.Provider,
			UseCase:   uc,
		}
	}

	req.RequestID = requestID
	req.UseCase = uc
	if req.Model == "" {
		req.Model = binding.Model
	}
	if req.Timeout <= 0 {
		req.Timeout = binding.Timeout
	}
	if req.Temperature == nil {
		req.Temperature = binding.Temperature
	}

	estimated := EstimateTokens([]Message{
		{Role: "system", Content: req.System},
		{Role: "user", Content: req.Prompt},
	})
	r.meter.OnRoute(RouteEvent{
		RequestID:   requestID,
		Provider:    binding.Provider,
		UseCase:     uc,
		Model:       req.Model,
		UserID:      caller.UserID,
		EstimatedIn: estimated,
		Remaining:   adm.Remaining,
		Overage:     adm.Overage,
	})

	res, err := adapter.Complete(ctx, req)
	if err != nil {
		if upstreamFailure(err) {
			r.health.RecordFailure(binding.Provider)
		} else {
			r.health.EndProbe(binding.Provider)
		}
		return CompletionResult{}, &RouterError{
			Err:       err,
			RequestID: requestID,
			Provider:  binding.Provider,
			UseCase:   uc,
			Model:     req.Model,
		}
	}
	r.health.RecordSuccess(binding.Provider)

	res.Routing = RoutingInfo{
		RequestID: requestID,
		Provider:  binding.Provider,
		UseCase:   uc,
		Model:     res.Model,
		Remaining: adm.Remaining,
		Overage:   adm.Overage,
	}
	return res, nil
}

func (r *Router) release(ctx context.Context, lease Lease, provider string, uc UseCase) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("release concurrency slot",
			"provider", provider,
			"use_case", uc,
			"error", err,
		)
	}
}

// upstreamFailure reports whether err says something about the provider's
// health rather than about the request or its response body.
func upstreamFailure(err error) bool {
	if errors.Is(err, ErrParsingFailed) || errors.Is(err, context.Canceled) {
		return false
	}
	return IsRetryable(err) || errors.Is(err, ErrAuthFailed)
}
