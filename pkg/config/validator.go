package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/xhad/synthdata/pkg/format"
	"github.com/xhad/synthdata/pkg/llm"
	"github.com/xhad/synthdata/pkg/prompts"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	providers := []string{llm.ProviderVLLM, llm.ProviderAPIEndpoint, llm.ProviderOllama}
	if !slices.Contains(providers, c.LLM.Provider) {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q (expected one of %v)", c.LLM.Provider, providers),
		})
	}

	endpoints := []struct {
		name string
		cfg  EndpointConfig
	}{
		{"vllm", c.VLLM},
		{"api-endpoint", c.APIEndpoint},
		{"ollama", c.Ollama},
	}
	for _, e := range endpoints {
		if e.cfg.APIBase != "" {
			if u, err := url.Parse(e.cfg.APIBase); err != nil || u.Scheme == "" || u.Host == "" {
				errors = append(errors, ValidationError{
					Field:   e.name + ".api_base",
					Message: "invalid API base URL",
				})
			}
		}
		if e.cfg.MaxRetries < 1 {
			errors = append(errors, ValidationError{
				Field:   e.name + ".max_retries",
				Message: "max_retries must be at least 1",
			})
		}
		if e.cfg.RetryDelay < 0 {
			errors = append(errors, ValidationError{
				Field:   e.name + ".retry_delay",
				Message: "retry_delay cannot be negative",
			})
		}
	}

	if c.LLM.Provider == llm.ProviderAPIEndpoint && c.APIEndpoint.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "api-endpoint.api_key",
			Message: "API key is required (set api_key or API_ENDPOINT_KEY)",
		})
	}

	// Validate generation config
	g := c.Generation
	if g.Temperature < 0 || g.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "generation.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if g.TopP < 0 || g.TopP > 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.top_p",
			Message: "top_p must be between 0 and 1",
		})
	}

	if g.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	if g.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if g.Overlap < 0 || g.Overlap >= g.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "generation.overlap",
			Message: "overlap must be non-negative and less than chunk_size",
		})
	}

	if g.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if g.BatchPause < 0 {
		errors = append(errors, ValidationError{
			Field:   "generation.batch_pause",
			Message: "batch_pause cannot be negative",
		})
	}

	// Validate curate config
	if c.Curate.Threshold < 0 || c.Curate.Threshold > 10 {
		errors = append(errors, ValidationError{
			Field:   "curate.threshold",
			Message: "threshold must be between 0 and 10",
		})
	}

	if c.Curate.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "curate.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate format and prompts
	if !slices.Contains(format.Formats, c.Format.Default) {
		errors = append(errors, ValidationError{
			Field:   "format.default",
			Message: fmt.Sprintf("unknown format %q (expected one of %v)", c.Format.Default, format.Formats),
		})
	}

	known := prompts.Defaults()
	for name := range c.Prompts {
		if _, ok := known[name]; !ok {
			errors = append(errors, ValidationError{
				Field:   "prompts." + name,
				Message: fmt.Sprintf("unknown prompt name (expected one of %v)", prompts.NewSet(nil).Names()),
			})
		}
	}

	// Validate database and ingest config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Ingest.MaxDepth < 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.max_depth",
			Message: "max_depth cannot be negative",
		})
	}

	if c.Ingest.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	return errors
}
