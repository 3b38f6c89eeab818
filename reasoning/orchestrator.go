package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/baum777/reasongate"
	"github.com/baum777/reasongate/retry"
)

const defaultCacheTTL = 6 * time.Hour

// Generator dispatches completions for a use case. *reasongate.Router
// satisfies it.
type Generator interface {
	Route(ctx context.Context, uc reasongate.UseCase, req reasongate.CompletionRequest, caller reasongate.Caller) (reasongate.CompletionResult, error)
	HasCredential(uc reasongate.UseCase) bool
}

// Orchestrator runs requests through cache check, generation, validation,
// critique and caching. It is safe for concurrent use.
type Orchestrator struct {
	gen       Generator
	cache     reasongate.Store
	enrichers []Enricher
	policy    retry.Policy
	retryOpts []retry.Option
	cacheTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEnrichers adds context enrichers.
func WithEnrichers(e ...Enricher) Option {
	return func(o *Orchestrator) { o.enrichers = append(o.enrichers, e...) }
}

// WithRetryPolicy sets the policy for provider calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithRetryOptions passes options to every retry loop.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *Orchestrator) { o.retryOpts = append(o.retryOpts, opts...) }
}

// WithCacheTTL sets how long envelopes stay cached.
func WithCacheTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.cacheTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the clock used for latency.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. A nil generator always uses the offline
// generator and critic.
func New(gen Generator, cache reasongate.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:      gen,
		cache:    cache,
		policy:   retry.DefaultPolicy(),
		cacheTTL: defaultCacheTTL,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the state of one request through the pipeline.
type run struct {
	req       Request
	start     time.Time
	state     State
	key       string
	canonical []byte
	warnings  []string
}

// Run executes the pipeline for req. It never returns an error or panics;
// failures come back as error envelopes.
func (o *Orchestrator) Run(ctx context.Context, req Request) (env Envelope) {
	r := &run{req: req, start: o.now(), state: StateNew}
	if r.req.Version == "" {
		r.req.Version = DefaultVersion
	}

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("reasoning panic",
				"use_case", req.UseCase,
				"reference_id", req.ReferenceID,
				"state", r.state,
				"panic", fmt.Sprint(p),
			)
			env = o.fail(ctx, r, &ErrorInfo{Code: CodeInternalError, Message: "internal error"})
		}
	}()

	if err := validateRequest(r.req); err != nil {
		return o.fail(ctx, r, Classify(err))
	}

	merged, warnings := buildContext(ctx, r.req, o.enrichers)
	r.warnings = warnings
	canonical, err := Canonical(merged)
	if err != nil {
		return o.fail(ctx, r, Classify(err))
	}
	r.canonical = canonical
	r.key = CacheKey(r.req.UseCase, r.req.ReferenceID, r.req.Version, canonical)

	o.transition(ctx, r, StateCacheCheck)
	if cached, ok := o.lookup(ctx, r); ok {
		o.transition(ctx, r, StateCacheHit)
		return cached
	}

	o.transition(ctx, r, StateGenerating)
	data, model, err := o.generate(ctx, r)
	if err != nil {
		return o.fail(ctx, r, Classify(err))
	}

	o.transition(ctx, r, StateValidating)
	if err := Validate(r.req.UseCase, data); err != nil {
		return o.fail(ctx, r, Classify(err))
	}

	o.transition(ctx, r, StateCritiquing)
	report, err := o.critique(ctx, r, data)
	if err != nil {
		return o.fail(ctx, r, Classify(err))
	}

	env = Envelope{
		Status:     StatusOK,
		Data:       data,
		Confidence: report.AdjustedConfidence,
		Warnings:   append([]string{}, r.warnings...),
		Critic:     &report,
		Meta: Meta{
			Model:   model,
			Version: r.req.Version,
			Cache:   CacheInfo{Key: r.key},
		},
	}
	if len(report.Issues) > 0 {
		env.Warnings = append(env.Warnings, report.Notes...)
	}
	env.Meta.LatencyMs = o.now().Sub(r.start).Milliseconds()

	o.transition(ctx, r, StateCaching)
	o.store(ctx, r, env)

	o.transition(ctx, r, StateDone)
	return env
}

func validateRequest(req Request) error {
	switch req.UseCase {
	case reasongate.UseCaseJournalInsight, reasongate.UseCaseTradeReview, reasongate.UseCaseSentimentPulse:
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidRequest, req.UseCase)
	}
	if req.ReferenceID == "" {
		return fmt.Errorf("%w: referenceId is required", ErrInvalidRequest)
	}
	return nil
}

func (o *Orchestrator) lookup(ctx context.Context, r *run) (Envelope, bool) {
	if o.cache == nil {
		return Envelope{}, false
	}
	raw, ok, err := o.cache.Get(ctx, r.key)
	if err != nil {
		o.logger.Warn("reasoning cache read failed", "key", r.key, "error", err)
		return Envelope{}, false
	}
	if !ok {
		return Envelope{}, false
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		o.logger.Warn("reasoning cache entry unreadable", "key", r.key, "error", err)
		return Envelope{}, false
	}
	env.Meta.Cache = CacheInfo{Hit: true, IsStale: true, Key: r.key}
	env.Meta.LatencyMs = o.now().Sub(r.start).Milliseconds()
	return env, true
}

func (o *Orchestrator) store(ctx context.Context, r *run, env Envelope) {
	if o.cache == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		o.logger.Warn("reasoning cache encode failed", "key", r.key, "error", err)
		return
	}
	if err := o.cache.Set(ctx, r.key, string(raw), o.cacheTTL); err != nil {
		o.logger.Warn("reasoning cache write failed", "key", r.key, "error", err)
	}
}

func (o *Orchestrator) online(uc reasongate.UseCase) bool {
	return o.gen != nil && o.gen.HasCredential(uc)
}

func (o *Orchestrator) generate(ctx context.Context, r *run) (json.RawMessage, string, error) {
	uc := r.req.UseCase
	if !o.online(uc) {
		data, err := fallbackGenerate(uc, r.req.ReferenceID, r.canonical)
		return data, FallbackModel, err
	}

	p := generationPrompt(uc, r.req.ReferenceID, r.canonical)
	res, err := o.complete(ctx, r, uc, p)
	if err != nil {
		return nil, "", err
	}
	return res.Parsed, res.Model, nil
}

func (o *Orchestrator) critique(ctx context.Context, r *run, data json.RawMessage) (CriticReport, error) {
	uc := r.req.UseCase
	generated := clamp(gjson.GetBytes(data, "confidence").Float(), 0, 1)

	var report CriticReport
	if o.online(reasongate.UseCaseInsightCritic) {
		p := criticPrompt(uc, r.canonical, data)
		res, err := o.complete(ctx, r, reasongate.UseCaseInsightCritic, p)
		if err != nil {
			return CriticReport{}, err
		}
		if err := Validate(reasongate.UseCaseInsightCritic, res.Parsed); err != nil {
			return CriticReport{}, err
		}
		if err := json.Unmarshal(res.Parsed, &report); err != nil {
			return CriticReport{}, fmt.Errorf("%w: critic report: %w", reasongate.ErrParsingFailed, err)
		}
	} else {
		report = fallbackCritique(uc, r.canonical, data)
	}

	report.AdjustedConfidence = clamp(report.AdjustedConfidence, 0, 1)
	if report.AdjustedConfidence > generated {
		o.logger.Warn("critic raised confidence",
			"use_case", uc,
			"reference_id", r.req.ReferenceID,
			"generated", generated,
			"adjusted", report.AdjustedConfidence,
		)
	}
	if report.Issues == nil {
		report.Issues = []string{}
	}
	if report.Notes == nil {
		report.Notes = []string{}
	}
	return report, nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run, uc reasongate.UseCase, p prompt) (reasongate.CompletionResult, error) {
	opts := append([]retry.Option{retry.WithLogger(o.logger)}, o.retryOpts...)
	return retry.Do(ctx, o.policy, func(ctx context.Context) (reasongate.CompletionResult, error) {
		return o.gen.Route(ctx, uc, reasongate.CompletionRequest{
			UseCase:  uc,
			System:   p.system,
			Prompt:   p.user,
			JSONOnly: true,
		}, r.req.Caller)
	}, nil, opts...)
}

func (o *Orchestrator) transition(ctx context.Context, r *run, to State) {
	o.logger.Log(ctx, reasongate.LevelTrace, "reasoning state",
		"use_case", r.req.UseCase,
		"reference_id", r.req.ReferenceID,
		"from", r.state,
		"to", to,
	)
	r.state = to
}

func (o *Orchestrator) fail(ctx context.Context, r *run, info *ErrorInfo) Envelope {
	o.transition(ctx, r, StateError)

	level := slog.LevelWarn
	if info.Code == CodeInternalError {
		level = slog.LevelError
	}
	o.logger.Log(ctx, level, "reasoning failed",
		"use_case", r.req.UseCase,
		"reference_id", r.req.ReferenceID,
		"code", info.Code,
		"retryable", info.Retryable,
		"error", info.Message,
	)

	return Envelope{
		Status:   StatusError,
		Warnings: append([]string{}, r.warnings...),
		Meta: Meta{
			LatencyMs: o.now().Sub(r.start).Milliseconds(),
			Version:   r.req.Version,
			Cache:     CacheInfo{Key: r.key},
		},
		Error: info,
	}
}

// IsErrorCode reports whether env failed with code.
func IsErrorCode(env Envelope, code Code) bool {
	return env.Status == StatusError && env.Error != nil && env.Error.Code == code
}

var _ Generator = (*reasongate.Router)(nil)
