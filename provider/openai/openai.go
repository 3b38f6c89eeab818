// Package openai adapts the official OpenAI Go SDK to reasongate.Provider.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/baum777/reasongate"
)

// Provider calls the OpenAI chat completions API through the SDK client.
// Retries are disabled in the SDK; the retry executor owns them.
type Provider struct {
	name   string
	client openai.Client
}

var _ reasongate.Provider = (*Provider)(nil)

type options struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*options)

// WithBaseURL overrides the API base URL. It must end with a slash.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithName overrides the provider name (default "openai").
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// New creates an OpenAI provider. The API key travels with each request.
func New(opts ...Option) *Provider {
	o := options{name: reasongate.ProviderOpenAI}
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &Provider{
		name:   o.name,
		client: openai.NewClient(reqOpts...),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ChatCompletion(ctx context.Context, req reasongate.ProviderRequest) (reasongate.ProviderResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params, option.WithAPIKey(req.Auth.APIKey))
	if err != nil {
		return reasongate.ProviderResponse{}, p.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return reasongate.ProviderResponse{}, &reasongate.ProviderError{
			Provider: p.name,
			Err:      fmt.Errorf("%w: empty choices in response", reasongate.ErrProviderUnavailable),
		}
	}

	choice := resp.Choices[0]
	return reasongate.ProviderResponse{
		ID:           resp.ID,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: reasongate.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func messages(in []reasongate.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (p *Provider) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return reasongate.NewStatusError(p.name, apiErr.StatusCode, apiErr.RawJSON(), header, time.Now())
	}

	return &reasongate.ProviderError{
		Provider: p.name,
		Err:      fmt.Errorf("%w: %w", reasongate.ErrProviderUnavailable, err),
	}
}
