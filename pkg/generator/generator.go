// Package generator turns document text into training items by driving the
// chunker, the generation client and the JSON extractor together.
//
// Small documents are handled with a single request. Larger ones are split
// into overlapping chunks and submitted in batch groups until the target
// count is reached or the chunks run out. A chunk whose output cannot be
// parsed contributes nothing; it never fails the job.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xhad/synthdata/internal/models"
	"github.com/xhad/synthdata/pkg/extract"
	"github.com/xhad/synthdata/pkg/llm"
	"github.com/xhad/synthdata/pkg/processor"
	"github.com/xhad/synthdata/pkg/prompts"
)

// ErrBackendUnavailable is returned when every request submitted for a job
// failed at the backend, so no useful work was possible.
var ErrBackendUnavailable = errors.New("generation backend unavailable")

// Completer is the part of the generation client the generator needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	CompleteBatch(ctx context.Context, reqs []llm.Request, batchSize int) []llm.Result
}

// AllocationFunc decides how many items to request from each chunk.
type AllocationFunc func(target, chunks int) int

// EvenAllocation spreads the target evenly: max(1, round(target/chunks)).
// Output is sensitive to chunk order when combined with early stopping.
func EvenAllocation(target, chunks int) int {
	if chunks < 1 {
		return max(1, target)
	}
	return max(1, int(math.Round(float64(target)/float64(chunks))))
}

// GeneratorConfig represents the configuration for a Generator.
type GeneratorConfig struct {
	ChunkSize         int
	Overlap           int
	BatchSize         int
	SingleCallMaxSize int

	// Default target counts used by the Process helpers when the caller
	// passes zero.
	NumPairs       int
	NumCotExamples int

	Allocation AllocationFunc
	Prompts    prompts.Set
	// OnProgress is called after each batch group with the number of chunks
	// submitted so far and the total.
	OnProgress func(done, total int)
}

type Generator struct {
	config  GeneratorConfig
	client  Completer
	chunker processor.Processor
}

// NewWithConfig creates a Generator that sends requests through client.
func NewWithConfig(client Completer, config GeneratorConfig) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("generator requires a client")
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 4000
	}
	if config.BatchSize == 0 {
		config.BatchSize = 32
	}
	if config.BatchSize < 0 {
		return nil, fmt.Errorf("batch size cannot be negative")
	}
	if config.SingleCallMaxSize == 0 {
		config.SingleCallMaxSize = 8000
	}
	if config.NumPairs == 0 {
		config.NumPairs = 25
	}
	if config.NumCotExamples == 0 {
		config.NumCotExamples = 5
	}
	if config.Allocation == nil {
		config.Allocation = EvenAllocation
	}

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    config.ChunkSize,
		ChunkOverlap: config.Overlap,
	})
	if err != nil {
		return nil, err
	}

	return &Generator{
		config:  config,
		client:  client,
		chunker: chunker,
	}, nil
}

// task describes one kind of generated item.
type task[T any] struct {
	name     string
	template string
	keep     func(T) bool
}

var (
	qaTask  = task[models.QAPair]{name: "qa pairs", template: prompts.QAGeneration, keep: models.QAPair.Valid}
	cotTask = task[models.CotExample]{name: "cot examples", template: prompts.CotGeneration, keep: models.CotExample.Valid}
)

// accumulation is the state of one batched run. It is only touched by the
// loop in generate, between batch groups.
type accumulation[T any] struct {
	collected []T
	target    int
	submitted int
	failed    int
	total     int
}

func (a *accumulation[T]) room() int { return a.target - len(a.collected) }

func (a *accumulation[T]) full() bool { return len(a.collected) >= a.target }

// add appends items up to the remaining room and returns how many it kept.
func (a *accumulation[T]) add(items []T) int {
	if n := a.room(); len(items) > n {
		items = items[:max(n, 0)]
	}
	a.collected = append(a.collected, items...)
	return len(items)
}

func (g *Generator) request(template, text string, n int) (llm.Request, error) {
	prompt, err := g.config.Prompts.Render(template, map[string]any{
		"text":         text,
		"num_pairs":    n,
		"num_examples": n,
	})
	if err != nil {
		return llm.Request{}, err
	}
	return llm.NewRequest([]models.Message{{Role: models.RoleSystem, Content: prompt}}), nil
}

func generate[T any](ctx context.Context, g *Generator, text string, target int, t task[T]) ([]T, error) {
	logger := log.Ctx(ctx)
	if target <= 0 {
		return []T{}, nil
	}

	if utf8.RuneCountInString(text) < g.config.SingleCallMaxSize {
		return generateSingle(ctx, g, text, target, t)
	}

	chunks, err := g.chunker.Split(text)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return []T{}, nil
	}

	perChunk := g.config.Allocation(target, len(chunks))
	reqs := make([]llm.Request, len(chunks))
	for i, c := range chunks {
		if reqs[i], err = g.request(t.template, c.Text, perChunk); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("task", t.name).
		Int("chunks", len(chunks)).
		Int("per_chunk", perChunk).
		Int("target", target).
		Int("batch_size", g.config.BatchSize).
		Msg("generating with chunking")

	acc := &accumulation[T]{collected: make([]T, 0, target), target: target, total: len(chunks)}
	for start := 0; start < len(reqs); start += g.config.BatchSize {
		if acc.full() {
			logger.Info().Int("target", target).Msg("reached target, stopping submission")
			break
		}
		if err := ctx.Err(); err != nil {
			return acc.collected, err
		}

		end := min(start+g.config.BatchSize, len(reqs))
		results := g.client.CompleteBatch(ctx, reqs[start:end], g.config.BatchSize)
		acc.submitted += end - start

		for j, r := range results {
			if acc.full() {
				break
			}
			chunk := start + j
			if !r.OK() {
				acc.failed++
				logger.Warn().Err(r.Err).Int("chunk", chunk).Msg("chunk request failed")
				continue
			}

			values, err := extract.JSONArray(r.Text)
			if err != nil {
				logger.Warn().Err(err).Int("chunk", chunk).Msg("could not parse chunk output")
				continue
			}

			kept := acc.add(extract.Items(values, t.keep))
			logger.Debug().
				Int("chunk", chunk).
				Int("added", kept).
				Int("collected", len(acc.collected)).
				Msg("chunk processed")
		}

		if g.config.OnProgress != nil {
			g.config.OnProgress(acc.submitted, acc.total)
		}
	}

	if err := ctx.Err(); err != nil {
		return acc.collected, err
	}
	if acc.submitted > 0 && acc.failed == acc.submitted {
		return nil, fmt.Errorf("generating %s: all %d requests failed: %w", t.name, acc.submitted, ErrBackendUnavailable)
	}

	logger.Info().
		Str("task", t.name).
		Int("generated", len(acc.collected)).
		Int("requested", target).
		Int("chunks_submitted", acc.submitted).
		Msg("generation complete")
	return acc.collected, nil
}

func generateSingle[T any](ctx context.Context, g *Generator, text string, target int, t task[T]) ([]T, error) {
	req, err := g.request(t.template, text, target)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("task", t.name).Int("target", target).Msg("generating with a single call")

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("generating %s: %w: %w", t.name, ErrBackendUnavailable, err)
	}
	if g.config.OnProgress != nil {
		g.config.OnProgress(1, 1)
	}

	values, err := extract.JSONArray(resp)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task", t.name).Msg("could not parse output")
		return []T{}, nil
	}

	acc := &accumulation[T]{collected: make([]T, 0, target), target: target}
	acc.add(extract.Items(values, t.keep))
	return acc.collected, nil
}

// GenerateQAPairs produces at most n question-answer pairs from text.
func (g *Generator) GenerateQAPairs(ctx context.Context, text string, n int) ([]models.QAPair, error) {
	return generate(ctx, g, text, n, qaTask)
}

// GenerateCoTExamples produces at most n chain-of-thought examples from text.
func (g *Generator) GenerateCoTExamples(ctx context.Context, text string, n int) ([]models.CotExample, error) {
	return generate(ctx, g, text, n, cotTask)
}

// Summarize asks for a short summary of text.
func (g *Generator) Summarize(ctx context.Context, text string) (string, error) {
	prompt, err := g.config.Prompts.Get(prompts.Summary)
	if err != nil {
		return "", err
	}

	summary, err := g.client.Complete(ctx, llm.NewRequest([]models.Message{
		{Role: models.RoleSystem, Content: prompt},
		{Role: models.RoleUser, Content: text},
	}, llm.WithTemperature(0.1)))
	if err != nil {
		return "", fmt.Errorf("summarizing: %w: %w", ErrBackendUnavailable, err)
	}
	return summary, nil
}

// ProcessQA summarises text and generates n QA pairs from it. A zero n
// uses the configured default.
func (g *Generator) ProcessQA(ctx context.Context, text string, n int) (models.QAResult, error) {
	if n == 0 {
		n = g.config.NumPairs
	}

	summary, err := g.Summarize(ctx, text)
	if err != nil {
		return models.QAResult{}, err
	}

	pairs, err := g.GenerateQAPairs(ctx, text, n)
	if err != nil {
		return models.QAResult{}, err
	}

	return models.QAResult{Summary: summary, QAPairs: pairs}, nil
}

// ProcessCoT summarises text, generates n chain-of-thought examples and
// renders each as a conversation. A zero n uses the configured default.
func (g *Generator) ProcessCoT(ctx context.Context, text string, n int) (models.CotResult, error) {
	if n == 0 {
		n = g.config.NumCotExamples
	}

	summary, err := g.Summarize(ctx, text)
	if err != nil {
		return models.CotResult{}, err
	}

	examples, err := g.GenerateCoTExamples(ctx, text, n)
	if err != nil {
		return models.CotResult{}, err
	}

	conversations := make([]models.Conversation, 0, len(examples))
	for _, ex := range examples {
		conversations = append(conversations, ex.Conversation())
	}

	return models.CotResult{Summary: summary, Examples: examples, Conversations: conversations}, nil
}

// Enhance rewrites each conversation so its assistant turns carry
// step-by-step reasoning. One request is sent per conversation. A
// conversation whose rewrite fails or cannot be parsed is returned as it
// was.
func (g *Generator) Enhance(ctx context.Context, conversations []models.Conversation, includeSimpleSteps bool) ([]models.Conversation, error) {
	logger := log.Ctx(ctx)
	out := make([]models.Conversation, len(conversations))
	copy(out, conversations)
	if len(conversations) == 0 {
		return out, nil
	}

	reqs := make([]llm.Request, len(conversations))
	for i, conv := range conversations {
		data, err := json.MarshalIndent(conv, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding conversation %d: %w", i, err)
		}
		prompt, err := g.config.Prompts.Render(prompts.CotEnhancement, map[string]any{
			"conversations":        string(data),
			"include_simple_steps": includeSimpleSteps,
		})
		if err != nil {
			return nil, err
		}
		reqs[i] = llm.NewRequest([]models.Message{{Role: models.RoleSystem, Content: prompt}}, llm.WithTemperature(0.2))
	}

	logger.Info().Int("conversations", len(conversations)).Msg("enhancing conversations with reasoning")

	results := g.client.CompleteBatch(ctx, reqs, g.config.BatchSize)
	failed, enhanced := 0, 0
	for i, r := range results {
		if !r.OK() {
			failed++
			logger.Warn().Err(r.Err).Int("conversation", i).Msg("enhancement request failed, keeping original")
			continue
		}
		conv, ok := parseConversation(r.Text)
		if !ok {
			logger.Warn().Int("conversation", i).Msg("could not parse enhanced conversation, keeping original")
			continue
		}
		out[i] = conv
		enhanced++
	}
	if g.config.OnProgress != nil {
		g.config.OnProgress(len(results), len(results))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed == len(results) {
		return nil, fmt.Errorf("enhancing conversations: all %d requests failed: %w", failed, ErrBackendUnavailable)
	}

	logger.Info().Int("enhanced", enhanced).Int("total", len(conversations)).Msg("enhancement complete")
	return out, nil
}

// parseConversation accepts either a flat message array or an array whose
// first element is the message array.
func parseConversation(raw string) (models.Conversation, bool) {
	values, err := extract.JSONArray(raw)
	if err != nil {
		return nil, false
	}

	validMessage := func(m models.Message) bool { return m.Role != "" && m.Content != "" }
	if msgs := extract.Items(values, validMessage); len(msgs) > 0 {
		return models.Conversation(msgs), true
	}

	nested := extract.Items(values, func(c models.Conversation) bool { return len(c) > 0 })
	if len(nested) > 0 {
		return nested[0], true
	}
	return nil, false
}
