package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baum777/reasongate"
)

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1760000000,
	"model": "gpt-4o-mini",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "{\"summary\":\"steady\"}", "refusal": null},
		"finish_reason": "stop",
		"logprobs": null
	}],
	"usage": {"prompt_tokens": 21, "completion_tokens": 9, "total_tokens": 30}
}`

func TestChatCompletion_Success(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-openai", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL + "/"))
	resp, err := p.ChatCompletion(context.Background(), reasongate.ProviderRequest{
		Auth:        reasongate.Auth{APIKey: "sk-openai"},
		Model:       "gpt-4o-mini",
		Messages:    []reasongate.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		Temperature: reasongate.Float64Ptr(0.3),
		MaxTokens:   reasongate.IntPtr(256),
		JSONMode:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, `{"summary":"steady"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, int64(30), resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.InDelta(t, 0.3, got["temperature"], 1e-9)
	assert.EqualValues(t, 256, got["max_completion_tokens"])
	rf, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", rf["type"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestChatCompletion_StatusErrors(t *testing.T) {
	cases := []struct {
		status   int
		sentinel error
	}{
		{http.StatusTooManyRequests, reasongate.ErrRateLimited},
		{http.StatusUnauthorized, reasongate.ErrAuthFailed},
		{http.StatusBadRequest, reasongate.ErrInvalidRequest},
		{http.StatusBadGateway, reasongate.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var calls int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test","code":"x"}}`))
			}))
			defer srv.Close()

			_, err := New(WithBaseURL(srv.URL+"/")).ChatCompletion(context.Background(), reasongate.ProviderRequest{
				Auth:  reasongate.Auth{APIKey: "k"},
				Model: "gpt-4o-mini",
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, 1, calls, "sdk retries must be disabled")

			var pe *reasongate.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, 3*time.Second, pe.RetryAfter)
		})
	}
}

func TestChatCompletion_ContextDeadlinePassesThrough(t *testing.T) {
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := New(WithBaseURL(srv.URL+"/")).ChatCompletion(ctx, reasongate.ProviderRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMessages_RoleMapping(t *testing.T) {
	out := messages([]reasongate.Message{
		{Role: "system", Content: "s"},
		{Role: "assistant", Content: "a"},
		{Role: "user", Content: "u"},
		{Role: "tool", Content: "t"},
	})
	require.Len(t, out, 4)
	assert.NotNil(t, out[0].OfSystem)
	assert.NotNil(t, out[1].OfAssistant)
	assert.NotNil(t, out[2].OfUser)
	assert.NotNil(t, out[3].OfUser)
}
