package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/synthdata/internal/models"
	"github.com/xhad/synthdata/pkg/llm"
)

func TestOllamaBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/chat":
			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "llama3", req.Model)
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "user", req.Messages[1].Role)

			w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"[{\"question\":\"Q\",\"answer\":\"A\"}]"},"done":true}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := llm.NewWithConfig(llm.ClientConfig{
		Provider:   llm.ProviderOllama,
		APIBase:    server.URL,
		Model:      "llama3",
		MaxRetries: 1,
	})
	require.NoError(t, err)
	require.NoError(t, client.Check(context.Background()))

	text, err := client.Complete(context.Background(), llm.NewRequest([]models.Message{
		{Role: models.RoleSystem, Content: "You are a generator."},
		{Role: models.RoleUser, Content: "Make one pair."},
	}))
	require.NoError(t, err)
	assert.Equal(t, `[{"question":"Q","answer":"A"}]`, text)
}

func TestOllamaBackend_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer server.Close()

	client, err := llm.NewWithConfig(llm.ClientConfig{Provider: llm.ProviderOllama, APIBase: server.URL, MaxRetries: 1})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), llm.UserRequest("hi"))
	assert.True(t, llm.IsTransient(err))
}
