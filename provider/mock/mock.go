package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baum777/reasongate"
)

// DefaultContent is the body returned when no content or response func is set.
const DefaultContent = `{"summary":"mock insight","confidence":0.7}`

// Provider is a mock LLM provider for testing.
type Provider struct {
	name         string
	content      string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	usage        reasongate.Usage
	responseFunc func(reasongate.ProviderRequest) (reasongate.ProviderResponse, error)

	mu       sync.Mutex
	errs     []error
	requests []reasongate.ProviderRequest
}

var _ reasongate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    "mock",
		content: DefaultContent,
		usage: reasongate.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithContent sets the response body.
func WithContent(s string) Option {
	return func(p *Provider) { p.content = s }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithErrors queues errors returned by successive calls. A nil entry lets
// that call succeed. Once the queue is drained every call succeeds.
func WithErrors(errs ...error) Option {
	return func(p *Provider) { p.errs = append([]error(nil), errs...) }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u reasongate.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(reasongate.ProviderRequest) (reasongate.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ChatCompletion(ctx context.Context, req reasongate.ProviderRequest) (reasongate.ProviderResponse, error) {
	if p.latency > 0 {
		t := time.NewTimer(p.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return reasongate.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	p.mu.Lock()
	p.requests = append(p.requests, req)
	var queued error
	if len(p.errs) > 0 {
		queued, p.errs = p.errs[0], p.errs[1:]
	}
	p.mu.Unlock()

	if queued != nil {
		return reasongate.ProviderResponse{}, queued
	}

	if p.staticErr != nil {
		return reasongate.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return reasongate.ProviderResponse{}, reasongate.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return reasongate.ProviderResponse{
		ID:           "mock-response-id",
		Content:      p.content,
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []reasongate.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]reasongate.ProviderRequest(nil), p.requests...)
}

// LastRequest returns the most recent request, or false if none arrived.
func (p *Provider) LastRequest() (reasongate.ProviderRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return reasongate.ProviderRequest{}, false
	}
	return p.requests[len(p.requests)-1], true
}
