package config

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/xhad/synthdata/pkg/curate"
	"github.com/xhad/synthdata/pkg/generator"
	"github.com/xhad/synthdata/pkg/llm"
	"github.com/xhad/synthdata/pkg/parser"
	"github.com/xhad/synthdata/pkg/prompts"
	"github.com/xhad/synthdata/pkg/store"
)

// Level is the log level selected by the options: Warn by default, Info
// when verbose and Debug when debugging.
func (o LogOptions) Level() zerolog.Level {
	switch {
	case o.Debug:
		return zerolog.DebugLevel
	case o.Verbose:
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ClientConfig returns the generation client settings for the selected
// provider.
func (c *Config) ClientConfig() llm.ClientConfig {
	e := c.Endpoint()
	return llm.ClientConfig{
		Provider:    c.LLM.Provider,
		APIBase:     e.APIBase,
		APIKey:      e.APIKey,
		Model:       e.Model,
		MaxRetries:  e.MaxRetries,
		RetryDelay:  seconds(e.RetryDelay),
		Timeout:     seconds(e.Timeout),
		BatchPause:  seconds(c.Generation.BatchPause),
		Temperature: c.Generation.Temperature,
		MaxTokens:   c.Generation.MaxTokens,
		TopP:        c.Generation.TopP,
	}
}

func (c *Config) PromptSet() prompts.Set {
	return prompts.NewSet(c.Prompts)
}

func (c *Config) GeneratorConfig() generator.GeneratorConfig {
	g := c.Generation
	return generator.GeneratorConfig{
		ChunkSize:         g.ChunkSize,
		Overlap:           g.Overlap,
		BatchSize:         g.BatchSize,
		SingleCallMaxSize: g.SingleCallMaxSize,
		NumPairs:          g.NumPairs,
		NumCotExamples:    g.NumCotExamples,
		Prompts:           c.PromptSet(),
	}
}

func (c *Config) CuratorConfig() curate.CuratorConfig {
	return curate.CuratorConfig{
		Threshold:   c.Curate.Threshold,
		BatchSize:   c.Curate.BatchSize,
		Concurrency: c.Generation.BatchSize,
		Temperature: c.Curate.Temperature,
		Prompts:     c.PromptSet(),
	}
}

func (c *Config) ParserConfig() parser.ParserConfig {
	return parser.ParserConfig{
		TikaURL:        c.Ingest.TikaURL,
		MaxDepth:       c.Ingest.MaxDepth,
		RateLimit:      c.Ingest.RateLimit,
		Timeout:        seconds(c.Ingest.Timeout),
		IgnorePatterns: c.Ingest.IgnorePatterns,
	}
}

func (c *Config) StoreConfig() store.DatasetStoreConfig {
	return store.DatasetStoreConfig{
		ConnString: c.Database.URL,
		TableName:  c.Database.TableName,
		BatchSize:  c.Database.BatchSize,
	}
}
