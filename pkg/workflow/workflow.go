// Package workflow runs the ingest, create, curate and save-as stages over a
// single source or a directory of sources. A failure on one file is recorded
// and the remaining files are still processed.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xhad/synthdata/internal/types"
	"github.com/xhad/synthdata/pkg/config"
	"github.com/xhad/synthdata/pkg/parser"
)

// Extensions accepted by each stage when given a directory.
var (
	IngestExtensions = parser.Extensions
	CreateExtensions = []string{".txt", ".md"}
	JSONExtensions   = []string{".json"}
)

// FileResult is the outcome of one successfully processed source.
type FileResult struct {
	Source string `json:"source"`
	Output string `json:"output"`
	Items  int    `json:"items"`
}

type FileError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Summary reports a stage run over one or more sources.
type Summary struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []FileResult `json:"results"`
	Errors     []FileError  `json:"errors"`
}

// StageFetch events report each page fetched while crawling a URL.
const StageFetch = "fetch"

// Event is a progress notification.
type Event struct {
	Stage  string `json:"stage"`
	Source string `json:"source"`
	// Done and Total count files, or chunk requests when Chunks is set.
	Done   int  `json:"done"`
	Total  int  `json:"total"`
	Chunks bool `json:"chunks,omitempty"`
}

type WorkflowConfig struct {
	Config *config.Config
	// Client is required by Create and Curate.
	Client types.LLMClient
	// Parser defaults to a parser built from Config.
	Parser types.Parser
	// OpenStore opens the dataset store for the postgres storage target.
	OpenStore  func(ctx context.Context) (types.DatasetStore, error)
	OnProgress func(Event)
}

type Workflow struct {
	config     *config.Config
	client     types.LLMClient
	parser     types.Parser
	openStore  func(ctx context.Context) (types.DatasetStore, error)
	onProgress func(Event)
}

func NewWithConfig(cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("workflow requires a configuration")
	}
	if cfg.OnProgress == nil {
		cfg.OnProgress = func(Event) {}
	}
	if cfg.Parser == nil {
		pc := cfg.Config.ParserConfig()
		onProgress := cfg.OnProgress
		pc.OnProgress = func(url string) {
			onProgress(Event{Stage: StageFetch, Source: url})
		}
		cfg.Parser = parser.NewWithConfig(pc)
	}
	return &Workflow{
		config:     cfg.Config,
		client:     cfg.Client,
		parser:     cfg.Parser,
		openStore:  cfg.OpenStore,
		onProgress: cfg.OnProgress,
	}, nil
}

// each runs fn for every source in order. It stops early only when ctx is
// done, in which case the context error is returned with the partial
// summary.
func (w *Workflow) each(ctx context.Context, stage string, sources []string, fn func(ctx context.Context, source string) (FileResult, error)) (Summary, error) {
	logger := log.Ctx(ctx)
	summary := Summary{Total: len(sources), Results: []FileResult{}, Errors: []FileError{}}

	for i, source := range sources {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		w.onProgress(Event{Stage: stage, Source: source, Done: i, Total: len(sources)})

		result, err := fn(ctx, source)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, FileError{Source: source, Error: err.Error()})
			logger.Error().Err(err).Str("stage", stage).Str("source", source).Msg("processing failed")
			continue
		}
		summary.Successful++
		summary.Results = append(summary.Results, result)
		logger.Info().Str("stage", stage).Str("source", source).Str("output", result.Output).Msg("processed")
	}

	w.onProgress(Event{Stage: stage, Done: len(sources), Total: len(sources)})
	return summary, nil
}

// sources resolves input to the list of files to process. A directory
// yields its files with a matching extension, sorted, without recursion.
func sources(input string, extensions []string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("input not found: %w", err)
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", input, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(extensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(input, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// stem is the base name used for a source's outputs.
func stem(source string) string {
	if isURL(source) {
		u, _ := url.Parse(source)
		name := u.Host + strings.TrimSuffix(u.Path, "/")
		return strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	}
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func outputDir(dir, fallback string) string {
	if dir != "" {
		return dir
	}
	return fallback
}

func writeJSON(path string, v any, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
