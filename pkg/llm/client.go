// Package llm is a uniform client over the supported generation backends.
// It owns retries with linear backoff, sampling defaults and batched
// submission with bounded concurrency.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// ClientConfig represents the configuration for a generation client.
type ClientConfig struct {
	Provider   string
	APIBase    string
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	// BatchPause is the wait between the end of one batch group and the
	// start of the next.
	BatchPause time.Duration

	Temperature float64
	MaxTokens   int
	TopP        float64

	HTTPClient *http.Client
	// Timer replaces the retry wait timer. Tests use it to observe delays.
	Timer retry.Timer
}

// Client sends requests to a single backend chosen at construction.
type Client struct {
	config  ClientConfig
	backend Backend
}

// NewWithConfig creates a Client for the provider named in config.
func NewWithConfig(config ClientConfig) (*Client, error) {
	if config.Provider == "" {
		config.Provider = ProviderVLLM
	}

	var backend Backend
	switch config.Provider {
	case ProviderVLLM:
		if config.APIBase == "" {
			config.APIBase = "http://localhost:8000/v1"
		}
		if config.Timeout == 0 {
			config.Timeout = 180 * time.Second
		}
		if config.BatchPause == 0 {
			config.BatchPause = 100 * time.Millisecond
		}
		httpClient := newHTTPClient(config.HTTPClient, config.Timeout)
		backend = newChatBackend(ProviderVLLM, config.APIBase, "", config.Model, httpClient)

	case ProviderAPIEndpoint:
		if config.APIBase == "" {
			return nil, fmt.Errorf("api-endpoint provider requires api_base")
		}
		if config.APIKey == "" {
			return nil, fmt.Errorf("api-endpoint provider requires an API key")
		}
		if config.Timeout == 0 {
			config.Timeout = 120 * time.Second
		}
		if config.BatchPause == 0 {
			config.BatchPause = 500 * time.Millisecond
		}
		httpClient := newHTTPClient(config.HTTPClient, config.Timeout)
		backend = newChatBackend(ProviderAPIEndpoint, config.APIBase, config.APIKey, config.Model, httpClient)

	case ProviderOllama:
		if config.Timeout == 0 {
			config.Timeout = 180 * time.Second
		}
		httpClient := newHTTPClient(config.HTTPClient, config.Timeout)
		b, err := newOllamaBackend(config.APIBase, config.Model, httpClient)
		if err != nil {
			return nil, err
		}
		backend = b

	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}

	return NewWithBackend(backend, config), nil
}

// NewWithBackend creates a Client around an existing backend.
func NewWithBackend(backend Backend, config ClientConfig) *Client {
	if config.MaxRetries < 1 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.TopP == 0 {
		config.TopP = 0.95
	}
	if config.Provider == "" {
		config.Provider = backend.Name()
	}

	return &Client{
		config:  config,
		backend: backend,
	}
}

// Provider returns the name of the backend in use.
func (c *Client) Provider() string { return c.backend.Name() }

// Check verifies the backend is reachable.
func (c *Client) Check(ctx context.Context) error {
	return c.backend.Check(ctx)
}

func (c *Client) params(req Request) Params {
	p := Params{
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		TopP:        c.config.TopP,
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		p.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		p.TopP = *req.TopP
	}
	return p
}

// Complete sends one request. Transient failures are retried for up to
// MaxRetries attempts in total, waiting RetryDelay*k after the k-th failed
// attempt. The last attempt's error is returned.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	p := c.params(req)
	logger := log.Ctx(ctx)

	opts := []retry.Option{
		retry.Attempts(uint(c.config.MaxRetries)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.config.RetryDelay * time.Duration(n+1)
		}),
		retry.RetryIf(IsTransient),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().
				Err(err).
				Str("provider", c.backend.Name()).
				Uint("attempt", n+1).
				Int("max_retries", c.config.MaxRetries).
				Msg("generation attempt failed")
		}),
	}
	if c.config.Timer != nil {
		opts = append(opts, retry.WithTimer(c.config.Timer))
	}

	text, err := retry.DoWithData(func() (string, error) {
		return c.backend.Send(ctx, req.Messages, p)
	}, opts...)
	if err != nil {
		return "", err
	}

	logger.Debug().
		Str("provider", c.backend.Name()).
		Int("response_chars", len(text)).
		Msg("generation completed")
	return text, nil
}

// CompleteBatch sends reqs in groups of at most batchSize. Members of a
// group run concurrently and groups run one after another, spaced by the
// backend's batch pause. The result at position i belongs to reqs[i]; a
// failed request never cancels its siblings.
func (c *Client) CompleteBatch(ctx context.Context, reqs []Request, batchSize int) []Result {
	results := make([]Result, len(reqs))
	if batchSize < 1 {
		batchSize = 1
	}

	for start := 0; start < len(reqs); start += batchSize {
		end := min(start+batchSize, len(reqs))

		if start > 0 {
			if err := c.pause(ctx); err != nil {
				for i := start; i < len(reqs); i++ {
					results[i] = Result{Err: permanent(c.backend.Name(), "batch cancelled", err)}
				}
				break
			}
		}

		log.Ctx(ctx).Info().
			Str("provider", c.backend.Name()).
			Int("from", start).
			Int("to", end).
			Int("total", len(reqs)).
			Msg("processing batch")

		p := pool.New().WithMaxGoroutines(end - start)
		for i := start; i < end; i++ {
			i := i
			p.Go(func() {
				text, err := c.Complete(ctx, reqs[i])
				results[i] = Result{Text: text, Err: err}
			})
		}
		p.Wait()
	}

	return results
}

// pause waits BatchPause between groups, returning early when ctx is done.
func (c *Client) pause(ctx context.Context) error {
	if c.config.BatchPause <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.config.BatchPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
