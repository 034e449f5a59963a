package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/synthdata/pkg/llm"
)

func newTestClient(t *testing.T, provider string, handler http.HandlerFunc) *llm.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := llm.NewWithConfig(llm.ClientConfig{
		Provider:    provider,
		APIBase:     server.URL,
		APIKey:      "test-key",
		Model:       "test-model",
		MaxRetries:  1,
		Temperature: 0.3,
		MaxTokens:   256,
		TopP:        0.8,
	})
	require.NoError(t, err)
	return client
}

func TestChatBackend_WireContract(t *testing.T) {
	client := newTestClient(t, llm.ProviderAPIEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Equal(t, 0.3, body["temperature"])
		assert.Equal(t, 256.0, body["max_tokens"])
		assert.Equal(t, 0.8, body["top_p"])
		assert.Equal(t, []any{map[string]any{"role": "user", "content": "ping"}}, body["messages"])

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
	})

	text, err := client.Complete(context.Background(), llm.UserRequest("ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
}

func TestChatBackend_ResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		kind error
	}{
		{"choices", `{"choices":[{"message":{"content":"from choices"}}]}`, "from choices", nil},
		{"completion message text", `{"completion_message":{"content":{"type":"text","text":"from completion"}}}`, "from completion", nil},
		{"completion message string", `{"completion_message":{"content":"plain string"}}`, "plain string", nil},
		{"choices without content falls through", `{"choices":[{"message":{}}],"completion_message":{"content":{"text":"second"}}}`, "second", nil},
		{"unrecognized shape", `{"result":"??"}`, "", llm.ErrPermanent},
		{"valid json wrong type", `["not", "an", "object"]`, "", llm.ErrPermanent},
		{"malformed body", `{"choices": [`, "", llm.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, llm.ProviderVLLM, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			text, err := client.Complete(context.Background(), llm.UserRequest("q"))
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestChatBackend_UnrecognizedShapeMessage(t *testing.T) {
	client := newTestClient(t, llm.ProviderVLLM, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := client.Complete(context.Background(), llm.UserRequest("q"))
	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.Permanent, lerr.Kind)
	assert.Equal(t, "unrecognized response shape", lerr.Message)
}

func TestChatBackend_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `oops`, llm.ErrTransient},
		{"bad gateway", http.StatusBadGateway, ``, llm.ErrTransient},
		{"request timeout", http.StatusRequestTimeout, ``, llm.ErrTransient},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, llm.ErrTransient},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, llm.ErrPermanent},
		{"forbidden", http.StatusForbidden, ``, llm.ErrPermanent},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"context too long","type":"invalid_request_error"}}`, llm.ErrPermanent},
		{"4xx with overload body", http.StatusConflict, `{"error":{"message":"busy","type":"overloaded_error"}}`, llm.ErrTransient},
		{"4xx with rate limit code", http.StatusBadRequest, `{"error":{"message":"busy","type":"x","code":"rate_limit_exceeded"}}`, llm.ErrTransient},
		{"4xx with plain body", http.StatusNotFound, `no such route`, llm.ErrPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, llm.ProviderVLLM, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.Complete(context.Background(), llm.UserRequest("q"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var lerr *llm.Error
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tt.status, lerr.Status)
		})
	}
}

func TestChatBackend_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"third time"}}]}`))
	}))
	defer server.Close()

	timer := &fakeTimer{}
	client, err := llm.NewWithConfig(llm.ClientConfig{
		Provider:   llm.ProviderVLLM,
		APIBase:    server.URL,
		MaxRetries: 3,
		RetryDelay: 50 * time.Millisecond,
		Timer:      timer,
	})
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), llm.UserRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, "third time", text)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, timer.recorded())
}

func TestChatBackend_ConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := llm.NewWithConfig(llm.ClientConfig{Provider: llm.ProviderVLLM, APIBase: url, MaxRetries: 1})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), llm.UserRequest("q"))
	assert.True(t, llm.IsTransient(err))
}

func TestChatBackend_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := llm.NewWithConfig(llm.ClientConfig{
		Provider:   llm.ProviderVLLM,
		APIBase:    server.URL,
		MaxRetries: 1,
		Timeout:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), llm.UserRequest("q"))
	assert.ErrorIs(t, err, llm.ErrTransient)
}

func TestCheck(t *testing.T) {
	vllm := newTestClient(t, llm.ProviderVLLM, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"test-model"}]}`))
	})
	assert.NoError(t, vllm.Check(context.Background()))

	endpoint := newTestClient(t, llm.ProviderAPIEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"test-model","object":"model"}]}`))
	})
	assert.NoError(t, endpoint.Check(context.Background()))

	down := newTestClient(t, llm.ProviderVLLM, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.Error(t, down.Check(context.Background()))
}
