package reasongate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/baum777/reasongate/jsonextract"
)

// jsonInstruction is appended to the system text when JSON output is required.
const jsonInstruction = "You must return valid JSON."

// Adapter wraps a Provider with credentials, a per-call deadline, JSON
// extraction, and metering. Every call reports exactly one ResultEvent.
type Adapter struct {
	provider Provider
	auth     Auth
	meter    Meter
	timeout  time.Duration
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterMeter sets the meter that receives result events.
func WithAdapterMeter(m Meter) AdapterOption {
	return func(a *Adapter) { a.meter = m }
}

// WithDefaultTimeout sets the deadline used when a request carries none.
func WithDefaultTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.timeout = d }
}

// NewAdapter creates an Adapter for the given provider and credentials.
func NewAdapter(p Provider, auth Auth, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		provider: p,
		auth:     auth,
		timeout:  defaultProviderTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.meter == nil {
		a.meter = &noopMeter{}
	}
	return a
}

// Name returns the wrapped provider's name.
func (a *Adapter) Name() string {
	return a.provider.Name()
}

// Complete performs one chat completion bounded by the request timeout.
func (a *Adapter) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	system := req.System
	if req.JSONOnly {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	start := time.Now()
	resp, err := a.provider.ChatCompletion(callCtx, ProviderRequest{
		Auth:        a.auth,
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		JSONMode:    req.JSONOnly,
	})
	duration := time.Since(start)

	if err != nil {
		// Our own deadline expired while the caller's context is still live.
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
		}
		a.report(req, resp, duration, err)
		return CompletionResult{}, err
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	result := CompletionResult{
		Provider: a.Name(),
		Model:    model,
		RawText:  resp.Content,
		Usage:    resp.Usage,
	}

	if req.JSONOnly {
		parsed, perr := jsonextract.Object(resp.Content)
		if perr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrParsingFailed, a.Name(), perr)
			a.report(req, resp, duration, err)
			return CompletionResult{}, err
		}
		result.Parsed = parsed
	}

	a.report(req, resp, duration, nil)
	return result, nil
}

func (a *Adapter) report(req CompletionRequest, resp ProviderResponse, d time.Duration, err error) {
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	a.meter.OnResult(ResultEvent{
		RequestID: req.RequestID,
		Provider:  a.Name(),
		UseCase:   req.UseCase,
		Model:     model,
		Success:   err == nil,
		Duration:  d,
		Usage:     resp.Usage,
		Error:     err,
		At:        time.Now(),
	})
}
