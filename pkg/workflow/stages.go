package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/xhad/synthdata/internal/models"
	"github.com/xhad/synthdata/pkg/curate"
	"github.com/xhad/synthdata/pkg/format"
	"github.com/xhad/synthdata/pkg/generator"
)

// Content types produced by Create.
const (
	TypeQA         = "qa"
	TypeSummary    = "summary"
	TypeCoT        = "cot"
	TypeCoTEnhance = "cot-enhance"
)

var ContentTypes = []string{TypeQA, TypeSummary, TypeCoT, TypeCoTEnhance}

// Storage targets for SaveAs.
const (
	StorageJSON     = "json"
	StoragePostgres = "postgres"
)

type CreateOptions struct {
	Type string
	// Num is the number of pairs or examples to generate. Zero uses the
	// configured default. For cot-enhance it caps how many conversations
	// of each file are enhanced, and zero enhances all of them.
	Num                int
	IncludeSimpleSteps bool
}

// Ingest parses input, a URL, a file or a directory of supported files,
// and writes each text to <stem>.txt in outDir.
func (w *Workflow) Ingest(ctx context.Context, input, outDir string) (Summary, error) {
	outDir = outputDir(outDir, w.config.Paths.Parsed)

	var files []string
	if isURL(input) {
		files = []string{input}
	} else {
		var err error
		if files, err = sources(input, IngestExtensions); err != nil {
			return Summary{}, err
		}
	}

	return w.each(ctx, "ingest", files, func(ctx context.Context, source string) (FileResult, error) {
		text, err := w.parser.Parse(ctx, source)
		if err != nil {
			return FileResult{}, err
		}
		out := filepath.Join(outDir, stem(source)+".txt")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return FileResult{}, fmt.Errorf("error creating output directory: %w", err)
		}
		if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
			return FileResult{}, fmt.Errorf("error writing %s: %w", out, err)
		}
		return FileResult{Source: source, Output: out, Items: len([]rune(text))}, nil
	})
}

// Create generates content of opts.Type from input text files (or, for
// cot-enhance, conversation JSON files) into outDir.
func (w *Workflow) Create(ctx context.Context, input, outDir string, opts CreateOptions) (Summary, error) {
	outDir = outputDir(outDir, w.config.Paths.Generated)
	if opts.Type == "" {
		opts.Type = TypeQA
	}

	extensions := CreateExtensions
	switch opts.Type {
	case TypeQA, TypeSummary, TypeCoT:
	case TypeCoTEnhance:
		extensions = JSONExtensions
	default:
		return Summary{}, fmt.Errorf("unknown content type %q (expected one of %v)", opts.Type, ContentTypes)
	}

	if err := w.checkClient(ctx); err != nil {
		return Summary{}, err
	}

	files, err := sources(input, extensions)
	if err != nil {
		return Summary{}, err
	}

	return w.each(ctx, "create", files, func(ctx context.Context, source string) (FileResult, error) {
		gen, err := w.generator(source)
		if err != nil {
			return FileResult{}, err
		}

		data, err := os.ReadFile(source)
		if err != nil {
			return FileResult{}, fmt.Errorf("error reading %s: %w", source, err)
		}

		var (
			kind  string
			value any
			items int
		)
		switch opts.Type {
		case TypeQA:
			result, err := gen.ProcessQA(ctx, string(data), opts.Num)
			if err != nil {
				return FileResult{}, err
			}
			kind, value, items = "qa_pairs", result, len(result.QAPairs)

		case TypeSummary:
			summary, err := gen.Summarize(ctx, string(data))
			if err != nil {
				return FileResult{}, err
			}
			kind, value, items = "summary", map[string]string{"summary": summary}, 1

		case TypeCoT:
			result, err := gen.ProcessCoT(ctx, string(data), opts.Num)
			if err != nil {
				return FileResult{}, err
			}
			kind, value, items = "cot_examples", result, len(result.Examples)

		case TypeCoTEnhance:
			convs, err := parseConversations(data)
			if err != nil {
				return FileResult{}, err
			}
			if opts.Num > 0 && len(convs) > opts.Num {
				convs = convs[:opts.Num]
			}
			enhanced, err := gen.Enhance(ctx, convs, opts.IncludeSimpleSteps)
			if err != nil {
				return FileResult{}, err
			}
			kind, value, items = "enhanced", map[string]any{"conversations": enhanced}, len(enhanced)
		}

		out := filepath.Join(outDir, stem(source)+"_"+kind+".json")
		if err := writeJSON(out, value, w.config.Pretty()); err != nil {
			return FileResult{}, fmt.Errorf("error writing %s: %w", out, err)
		}
		return FileResult{Source: source, Output: out, Items: items}, nil
	})
}

// Curate rates the QA pairs of each input JSON file and keeps those at or
// above threshold.
func (w *Workflow) Curate(ctx context.Context, input, outDir string, threshold float64) (Summary, error) {
	outDir = outputDir(outDir, w.config.Paths.Curated)

	if err := w.checkClient(ctx); err != nil {
		return Summary{}, err
	}
	curator, err := curate.NewWithConfig(w.client, w.config.CuratorConfig())
	if err != nil {
		return Summary{}, err
	}

	files, err := sources(input, JSONExtensions)
	if err != nil {
		return Summary{}, err
	}

	return w.each(ctx, "curate", files, func(ctx context.Context, source string) (FileResult, error) {
		d, err := format.Load(source)
		if err != nil {
			return FileResult{}, err
		}
		if len(d.Pairs) == 0 {
			return FileResult{}, fmt.Errorf("%s: no QA pairs to rate", source)
		}

		kept, metrics, err := curator.RateAndFilter(ctx, d.Pairs, threshold)
		if err != nil {
			return FileResult{}, err
		}

		out := filepath.Join(outDir, stem(source)+"_curated.json")
		result := models.CurateResult{Summary: d.Summary, FilteredPairs: kept, Metrics: metrics}
		if err := writeJSON(out, result, w.config.Pretty()); err != nil {
			return FileResult{}, fmt.Errorf("error writing %s: %w", out, err)
		}
		return FileResult{Source: source, Output: out, Items: len(kept)}, nil
	})
}

// SaveAs converts each input JSON file to fileFormat and writes it to outDir
// or, for the postgres storage target, to the dataset store.
func (w *Workflow) SaveAs(ctx context.Context, input, outDir, fileFormat, storage string) (Summary, error) {
	outDir = outputDir(outDir, w.config.Paths.Final)
	if fileFormat == "" {
		fileFormat = w.config.Format.Default
	}
	if storage == "" {
		storage = StorageJSON
	}
	if !slices.Contains(format.Formats, fileFormat) {
		return Summary{}, fmt.Errorf("unknown format %q (supported: %v)", fileFormat, format.Formats)
	}

	files, err := sources(input, JSONExtensions)
	if err != nil {
		return Summary{}, err
	}

	var save func(ctx context.Context, source string, d format.Dataset) (FileResult, error)
	switch storage {
	case StorageJSON:
		save = func(_ context.Context, source string, d format.Dataset) (FileResult, error) {
			out := filepath.Join(outDir, stem(source)+"_"+fileFormat+format.Extension(fileFormat))
			if err := format.WriteFile(out, d, fileFormat, w.config.Pretty()); err != nil {
				return FileResult{}, err
			}
			return FileResult{Source: source, Output: out, Items: d.Len()}, nil
		}

	case StoragePostgres:
		if w.openStore == nil {
			return Summary{}, errors.New("postgres storage is not configured")
		}
		st, err := w.openStore(ctx)
		if err != nil {
			return Summary{}, err
		}
		defer st.Close()

		save = func(ctx context.Context, source string, d format.Dataset) (FileResult, error) {
			records, err := format.Records(d, fileFormat)
			if err != nil {
				return FileResult{}, err
			}
			name := stem(source)
			n, err := st.Store(ctx, name, fileFormat, records)
			if err != nil {
				return FileResult{}, err
			}
			return FileResult{Source: source, Output: "postgres:" + name, Items: n}, nil
		}

	default:
		return Summary{}, fmt.Errorf("unknown storage %q (expected %s or %s)", storage, StorageJSON, StoragePostgres)
	}

	return w.each(ctx, "save-as", files, func(ctx context.Context, source string) (FileResult, error) {
		d, err := format.Load(source)
		if err != nil {
			return FileResult{}, err
		}
		return save(ctx, source, d)
	})
}

// SystemCheck reports whether the generation backend is reachable.
func (w *Workflow) SystemCheck(ctx context.Context) error {
	return w.checkClient(ctx)
}

func (w *Workflow) checkClient(ctx context.Context) error {
	if w.client == nil {
		return errors.New("no generation client configured")
	}
	if err := w.client.Check(ctx); err != nil {
		return fmt.Errorf("%s backend is not available: %w", w.client.Provider(), err)
	}
	return nil
}

func (w *Workflow) generator(source string) (*generator.Generator, error) {
	cfg := w.config.GeneratorConfig()
	cfg.OnProgress = func(done, total int) {
		w.onProgress(Event{Stage: "create", Source: source, Done: done, Total: total, Chunks: true})
	}
	return generator.NewWithConfig(w.client, cfg)
}

// parseConversations accepts a dataset file, a bare list of conversations
// or a single conversation.
func parseConversations(data []byte) ([]models.Conversation, error) {
	if d, err := format.Parse(data); err == nil && len(d.Conversations) > 0 {
		return d.Conversations, nil
	}

	var single models.Conversation
	if err := json.Unmarshal(data, &single); err == nil && len(single) > 0 && single[0].Role != "" {
		return []models.Conversation{single}, nil
	}
	return nil, errors.New("no conversations found")
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
