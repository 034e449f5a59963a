package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/synthdata/internal/models"
)

// ollamaBackend generates through a local Ollama server.
type ollamaBackend struct {
	baseURL string
	client  *http.Client
	llm     llms.Model
}

func newOllamaBackend(baseURL, model string, client *http.Client) (*ollamaBackend, error) {
	if model == "" {
		model = "mistral"
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(baseURL),
		ollama.WithHTTPClient(client),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ollamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		llm:     llm,
	}, nil
}

func (b *ollamaBackend) Name() string { return ProviderOllama }

func (b *ollamaBackend) Send(ctx context.Context, messages []models.Message, p Params) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	resp, err := b.llm.GenerateContent(ctx, content,
		llms.WithTemperature(p.Temperature),
		llms.WithMaxTokens(p.MaxTokens),
		llms.WithTopP(p.TopP),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", permanent(ProviderOllama, "request cancelled", ctx.Err())
		}
		return "", transient(ProviderOllama, "chat error", err)
	}

	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", permanent(ProviderOllama, "unrecognized response shape", nil)
	}
	return resp.Choices[0].Content, nil
}

func (b *ollamaBackend) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama server not reachable at %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama server at %s returned status %d", b.baseURL, resp.StatusCode)
	}
	return nil
}

func chatMessageType(role string) schema.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
