// Package curate rates generated QA pairs with one more generation pass and
// keeps the ones that meet a quality threshold.
package curate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xhad/synthdata/internal/models"
	"github.com/xhad/synthdata/pkg/extract"
	"github.com/xhad/synthdata/pkg/llm"
	"github.com/xhad/synthdata/pkg/prompts"
)

// ErrBackendUnavailable is returned when every rating request failed.
var ErrBackendUnavailable = errors.New("rating backend unavailable")

// BatchCompleter sends a set of requests and returns one result per request.
type BatchCompleter interface {
	CompleteBatch(ctx context.Context, reqs []llm.Request, batchSize int) []llm.Result
}

// CuratorConfig represents the configuration for a Curator.
type CuratorConfig struct {
	// Threshold is the default minimum rating kept.
	Threshold float64
	// BatchSize is the number of pairs rated per request.
	BatchSize int
	// Concurrency is the number of rating requests in flight at once.
	Concurrency int
	Temperature float64
	Prompts     prompts.Set
}

type Curator struct {
	config CuratorConfig
	client BatchCompleter
}

func NewWithConfig(client BatchCompleter, config CuratorConfig) (*Curator, error) {
	if client == nil {
		return nil, fmt.Errorf("curator requires a client")
	}
	if config.Threshold == 0 {
		config.Threshold = 7.0
	}
	if config.Threshold < 0 || config.Threshold > 10 {
		return nil, fmt.Errorf("threshold must be between 0 and 10, got %v", config.Threshold)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 32
	}
	if config.Temperature == 0 {
		config.Temperature = 0.1
	}

	return &Curator{config: config, client: client}, nil
}

// Threshold returns the configured default threshold.
func (c *Curator) Threshold() float64 { return c.config.Threshold }

// RateAndFilter rates pairs and keeps those rated at or above threshold, in
// input order. Ratings are matched to pairs by position; pairs the model
// did not rate are excluded.
func (c *Curator) RateAndFilter(ctx context.Context, pairs []models.QAPair, threshold float64) ([]models.RatedItem, models.Metrics, error) {
	logger := log.Ctx(ctx)
	metrics := models.Metrics{Total: len(pairs)}
	kept := []models.RatedItem{}
	if len(pairs) == 0 {
		return kept, metrics, nil
	}

	var batches [][]models.QAPair
	for start := 0; start < len(pairs); start += c.config.BatchSize {
		batches = append(batches, pairs[start:min(start+c.config.BatchSize, len(pairs))])
	}

	reqs := make([]llm.Request, len(batches))
	for i, batch := range batches {
		data, err := json.MarshalIndent(batch, "", "  ")
		if err != nil {
			return nil, metrics, fmt.Errorf("encoding pairs: %w", err)
		}
		prompt, err := c.config.Prompts.Render(prompts.QARating, map[string]any{"pairs": string(data)})
		if err != nil {
			return nil, metrics, err
		}
		reqs[i] = llm.UserRequest(prompt, llm.WithTemperature(c.config.Temperature))
	}

	logger.Info().
		Int("pairs", len(pairs)).
		Int("requests", len(reqs)).
		Float64("threshold", threshold).
		Msg("rating pairs")

	results := c.client.CompleteBatch(ctx, reqs, c.config.Concurrency)

	failed, rated := 0, 0
	var scoreSum float64
	for i, r := range results {
		if !r.OK() {
			failed++
			logger.Warn().Err(r.Err).Int("batch", i).Msg("rating request failed")
			continue
		}

		ratings, err := parseRatings(r.Text)
		if err != nil {
			logger.Warn().Err(err).Int("batch", i).Msg("could not parse ratings")
			continue
		}

		batch := batches[i]
		if len(ratings) != len(batch) {
			logger.Warn().
				Int("batch", i).
				Int("pairs", len(batch)).
				Int("ratings", len(ratings)).
				Msg("rating count does not match pair count")
		}

		for k := 0; k < min(len(ratings), len(batch)); k++ {
			if ratings[k] == nil {
				continue
			}
			score := *ratings[k]
			rated++
			scoreSum += score
			if score >= threshold {
				kept = append(kept, models.RatedItem{QAPair: batch[k], Rating: score})
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, metrics, err
	}
	if failed == len(results) {
		return nil, metrics, fmt.Errorf("rating %d pairs: all %d requests failed: %w", len(pairs), failed, ErrBackendUnavailable)
	}

	metrics.Filtered = len(kept)
	metrics.RetentionRate = float64(metrics.Filtered) / float64(metrics.Total)
	if rated > 0 {
		metrics.AvgScore = scoreSum / float64(rated)
	}

	logger.Info().
		Int("total", metrics.Total).
		Int("kept", metrics.Filtered).
		Float64("retention_rate", metrics.RetentionRate).
		Float64("avg_score", metrics.AvgScore).
		Msg("rating complete")
	return kept, metrics, nil
}

// parseRatings returns one entry per element of the recovered array. An
// entry is nil when the element carries no usable rating.
func parseRatings(raw string) ([]*float64, error) {
	values, err := extract.JSONArray(raw)
	if err != nil {
		return nil, err
	}

	out := make([]*float64, len(values))
	for i, v := range values {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if score, ok := toScore(obj["rating"]); ok {
			out[i] = &score
		}
	}
	return out, nil
}

// toScore accepts JSON numbers and numeric strings such as "8" or "7.5/10".
// NaN and infinities are not ratings.
func toScore(v any) (float64, bool) {
	var f float64
	switch r := v.(type) {
	case float64:
		f = r
	case string:
		s := strings.TrimSpace(r)
		if i := strings.Index(s, "/"); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		var err error
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
