package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baum777/reasongate"
)

func TestChatCompletion_Success(t *testing.T) {
	var got apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "deepseek-chat",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"verdict\":\"mixed\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer srv.Close()

	p := NewDeepSeek(WithBaseURL(srv.URL))
	resp, err := p.ChatCompletion(context.Background(), reasongate.ProviderRequest{
		Auth:        reasongate.Auth{APIKey: "sk-test"},
		Model:       "deepseek-chat",
		Messages:    []reasongate.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "review"}},
		Temperature: reasongate.Float64Ptr(0.2),
		JSONMode:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, "deepseek", p.Name())
	assert.Equal(t, `{"verdict":"mixed"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, int64(12), resp.Usage.PromptTokens)
	assert.Equal(t, int64(7), resp.Usage.CompletionTokens)

	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
}

func TestChatCompletion_NoResponseFormatWithoutJSONMode(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	_, err := NewGrok(WithBaseURL(srv.URL)).ChatCompletion(context.Background(), reasongate.ProviderRequest{Model: "grok-3-mini"})
	require.NoError(t, err)
	_, present := raw["response_format"]
	assert.False(t, present)
}

func TestChatCompletion_StatusErrors(t *testing.T) {
	cases := []struct {
		status     int
		retryAfter string
		sentinel   error
		wantAfter  time.Duration
	}{
		{status: 429, retryAfter: "2", sentinel: reasongate.ErrRateLimited, wantAfter: 2 * time.Second},
		{status: 401, sentinel: reasongate.ErrAuthFailed},
		{status: 400, sentinel: reasongate.ErrInvalidRequest},
		{status: 503, sentinel: reasongate.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			_, err := NewGrok(WithBaseURL(srv.URL)).ChatCompletion(context.Background(), reasongate.ProviderRequest{Model: "grok-3-mini"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)

			var pe *reasongate.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, "grok", pe.Provider)
			assert.Contains(t, pe.Body, "nope")
			assert.Equal(t, tc.wantAfter, pe.RetryAfter)
		})
	}
}

func TestChatCompletion_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewGrok(WithBaseURL(srv.URL)).ChatCompletion(context.Background(), reasongate.ProviderRequest{})
	assert.ErrorIs(t, err, reasongate.ErrProviderUnavailable)
}

func TestChatCompletion_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New("custom", url).ChatCompletion(context.Background(), reasongate.ProviderRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, reasongate.ErrProviderUnavailable)
	assert.True(t, reasongate.IsRetryable(err))
}

func TestChatCompletion_PacingRespectsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := New("paced", srv.URL, WithRateLimit(0.01, 1))
	_, err := p.ChatCompletion(context.Background(), reasongate.ProviderRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.ChatCompletion(ctx, reasongate.ProviderRequest{})
	assert.ErrorIs(t, err, reasongate.ErrTimeout)
}
