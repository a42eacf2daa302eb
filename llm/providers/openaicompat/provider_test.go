package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		ProviderName: "test",
		APIKey:       "sk-test",
		BaseURL:      srv.URL,
		DefaultModel: "gpt-4o-mini",
	}, zap.NewNop())
}

func TestCompletion(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"created": 1700000000,
			"choices": [{"index":0,"finish_reason":"stop","message":{"content":"Привіт!"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Привіт"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Привіт!", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompletionEstimatesUsageWhenMissing(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"content":"hello world"}}]}`)
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Positive(t, resp.Usage.CompletionTokens)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestCompletionErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantCode: types.ErrRateLimit, retryable: true},
		{name: "server error", status: http.StatusInternalServerError, wantCode: types.ErrUpstreamError, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantCode: types.ErrAuthentication, retryable: false},
		{name: "bad request", status: http.StatusBadRequest, wantCode: types.ErrInvalidRequest, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"boom"}}`)
			})

			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestCompletionMalformedResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	})

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Відпо\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"відь\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})
	require.NoError(t, err)

	var text string
	for chunk := range stream {
		require.Nil(t, chunk.Err)
		text += chunk.Delta
	}
	assert.Equal(t, "Відповідь", text)
}

func TestStreamUpstreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	})

	_, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestHealthCheck(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"data":[]}`)
	})
	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestHealthCheckConnectionRefused(t *testing.T) {
	p := New(Config{ProviderName: "test", BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	err := p.HealthCheck(context.Background())
	require.Error(t, err)
	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.True(t, typed.Retryable)
}
