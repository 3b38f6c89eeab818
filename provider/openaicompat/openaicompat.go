package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/baum777/reasongate"
)

// Provider is a universal OpenAI-compatible API adapter.
// Works with DeepSeek, Grok/xAI, and other chat-completions endpoints.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ reasongate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the endpoint base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithRateLimit paces outbound requests to rps per second with the given
// burst. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Provider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDeepSeek creates a provider for DeepSeek.
func NewDeepSeek(opts ...Option) *Provider {
	return New(reasongate.ProviderDeepSeek, "https://api.deepseek.com/v1", opts...)
}

// NewGrok creates a provider for Grok/xAI.
func NewGrok(opts ...Option) *Provider {
	return New(reasongate.ProviderGrok, "https://api.x.ai/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model          string          `json:"model"`
	Messages       []apiMessage    `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req reasongate.ProviderRequest) (reasongate.ProviderResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return reasongate.ProviderResponse{}, fmt.Errorf("%w: %s: pacing: %w", reasongate.ErrTimeout, p.name, err)
		}
	}

	httpResp, err := p.doRequest(ctx, req.Auth, p.buildRequest(req))
	if err != nil {
		return reasongate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return reasongate.ProviderResponse{}, reasongate.ReadStatusError(p.name, httpResp)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return reasongate.ProviderResponse{}, &reasongate.ProviderError{
			Provider: p.name,
			Err:      fmt.Errorf("%w: decode response: %w", reasongate.ErrProviderUnavailable, err),
		}
	}

	if len(resp.Choices) == 0 {
		return reasongate.ProviderResponse{}, &reasongate.ProviderError{
			Provider: p.name,
			Err:      fmt.Errorf("%w: empty choices in response", reasongate.ErrProviderUnavailable),
		}
	}

	return reasongate.ProviderResponse{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
		Usage: reasongate.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) buildRequest(req reasongate.ProviderRequest) apiRequest {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}
	body := apiRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}

func (p *Provider) doRequest(ctx context.Context, auth reasongate.Auth, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("reasongate: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("reasongate: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &reasongate.ProviderError{
			Provider: p.name,
			Err:      fmt.Errorf("%w: %w", reasongate.ErrProviderUnavailable, err),
		}
	}

	return resp, nil
}
