package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xhad/synthdata/internal/models"
)

// Provider names accepted in configuration.
const (
	ProviderVLLM        = "vllm"
	ProviderAPIEndpoint = "api-endpoint"
	ProviderOllama      = "ollama"
)

// Backend sends a single chat completion attempt. Retries, defaults and
// batching are handled by Client.
type Backend interface {
	Name() string
	Send(ctx context.Context, messages []models.Message, p Params) (string, error)
	// Check verifies the backend is reachable and serving.
	Check(ctx context.Context) error
}

// chatBackend speaks the /chat/completions wire contract used by vLLM and
// OpenAI-compatible hosted endpoints.
type chatBackend struct {
	name    string
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
}

func newChatBackend(name, apiBase, apiKey, model string, client *http.Client) *chatBackend {
	return &chatBackend{
		name:    name,
		apiBase: strings.TrimRight(apiBase, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

func (b *chatBackend) Name() string { return b.name }

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	TopP        float64          `json:"top_p"`
}

func (b *chatBackend) Send(ctx context.Context, messages []models.Message, p Params) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		TopP:        p.TopP,
	})
	if err != nil {
		return "", permanent(b.name, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", permanent(b.name, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, b.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(ctx, b.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyStatus(b.name, resp.StatusCode, data)
	}

	return normalizeResponse(b.name, data)
}

func (b *chatBackend) Check(ctx context.Context) error {
	if b.apiKey != "" {
		cfg := openai.DefaultConfig(b.apiKey)
		cfg.BaseURL = b.apiBase
		cfg.HTTPClient = b.client
		if _, err := openai.NewClientWithConfig(cfg).ListModels(ctx); err != nil {
			return fmt.Errorf("listing models at %s: %w", b.apiBase, err)
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s server not reachable at %s: %w", b.name, b.apiBase, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s server at %s returned status %d", b.name, b.apiBase, resp.StatusCode)
	}
	return nil
}

// chatResponse covers the response shapes seen from serving backends:
// {choices:[{message:{content}}]} and {completion_message:{content:...}}
// where content is either {text} or a bare string.
type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	CompletionMessage *struct {
		Content json.RawMessage `json:"content"`
	} `json:"completion_message"`
}

func normalizeResponse(provider string, data []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		if json.Valid(data) {
			return "", permanent(provider, "unrecognized response shape", err)
		}
		return "", transient(provider, "malformed response body", err)
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}

	if resp.CompletionMessage != nil && len(resp.CompletionMessage.Content) > 0 {
		var withText struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(resp.CompletionMessage.Content, &withText); err == nil && withText.Text != nil {
			return *withText.Text, nil
		}
		var text string
		if err := json.Unmarshal(resp.CompletionMessage.Content, &text); err == nil {
			return text, nil
		}
	}

	return "", permanent(provider, "unrecognized response shape", nil)
}

func newHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: timeout}
}
