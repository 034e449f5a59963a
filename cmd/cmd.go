package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/synthdata/internal/types"
	cfgPkg "github.com/xhad/synthdata/pkg/config"
	"github.com/xhad/synthdata/pkg/llm"
	"github.com/xhad/synthdata/pkg/parser"
	"github.com/xhad/synthdata/pkg/store"
	"github.com/xhad/synthdata/pkg/workflow"
	"github.com/xhad/synthdata/server"
)

func newSystemCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "system-check",
		Short: "Check that the configured services are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := opts.config

			client, err := llm.NewWithConfig(cfg.ClientConfig())
			if err != nil {
				return err
			}

			spinner := getSpinner(fmt.Sprintf("Checking %s at %s...", client.Provider(), cfg.Endpoint().APIBase))
			err = client.Check(ctx)
			spinner.Finish()
			fmt.Print("\n")
			if err != nil {
				color.Red("✗ %s backend is not available: %v", client.Provider(), err)
				return errors.New("generation backend check failed")
			}
			color.Green("✓ %s backend is running (model %s)", client.Provider(), cfg.Endpoint().Model)

			version, err := parser.NewWithConfig(cfg.ParserConfig()).CheckTika(ctx)
			if err != nil {
				color.Yellow("! Tika is not available at %s, PDF, DOCX and PPTX ingestion will fail: %v", cfg.Ingest.TikaURL, err)
			} else {
				color.Green("✓ Tika is running (%s)", version)
			}

			if cfg.Database.URL != "" {
				st, err := openStore(cfg)(ctx)
				if err != nil {
					color.Yellow("! Database is not available: %v", err)
				} else {
					st.Close()
					color.Green("✓ Database is reachable (table %s)", cfg.Database.TableName)
				}
			}
			return nil
		},
	}
}

func newIngestCmd(opts *options) *cobra.Command {
	var (
		outDir  string
		preview bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <file|directory|url>",
		Short: "Parse documents into plain text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if preview {
				return showPreview("ingest", args[0], "")
			}
			p := newProgress()
			wf, err := workflow.NewWithConfig(workflow.WorkflowConfig{
				Config:     opts.config,
				OnProgress: p.handle,
			})
			if err != nil {
				return err
			}
			summary, err := wf.Ingest(cmd.Context(), args[0], outDir)
			return report("Ingested", summary, err)
		},
	}

	cmd.Flags().StringVarP(&outDir, "output-dir", "o", "", "Where to write the parsed text (default paths.parsed)")
	cmd.Flags().BoolVar(&preview, "preview", false, "List the files that would be parsed and exit")
	return cmd
}

func newCreateCmd(opts *options) *cobra.Command {
	var (
		createOpts workflow.CreateOptions
		outDir     string
		provider   string
		apiBase    string
		model      string
		preview    bool
	)

	cmd := &cobra.Command{
		Use:   "create <file|directory>",
		Short: "Generate QA pairs, summaries or reasoning examples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if preview {
				return showPreview("create", args[0], createOpts.Type)
			}
			cfg := opts.config
			if provider != "" {
				cfg.LLM.Provider = provider
			}
			e := endpoint(cfg)
			if apiBase != "" {
				e.APIBase = apiBase
			}
			if model != "" {
				e.Model = model
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				return errs[0]
			}

			client, err := llm.NewWithConfig(cfg.ClientConfig())
			if err != nil {
				return err
			}

			p := newProgress()
			wf, err := workflow.NewWithConfig(workflow.WorkflowConfig{
				Config:     cfg,
				Client:     client,
				OnProgress: p.handle,
			})
			if err != nil {
				return err
			}
			summary, err := wf.Create(cmd.Context(), args[0], outDir, createOpts)
			return report("Generated", summary, err)
		},
	}

	cmd.Flags().StringVar(&createOpts.Type, "type", workflow.TypeQA, fmt.Sprintf("Content to generate %v", workflow.ContentTypes))
	cmd.Flags().IntVarP(&createOpts.Num, "num", "n", 0, "Number of pairs or examples (default from config); for cot-enhance, the most conversations enhanced per file")
	cmd.Flags().BoolVar(&createOpts.IncludeSimpleSteps, "include-simple-steps", false, "Add reasoning to simple steps when enhancing")
	cmd.Flags().StringVarP(&outDir, "output-dir", "o", "", "Where to write generated files (default paths.generated)")
	cmd.Flags().StringVar(&provider, "provider", "", "Override llm.provider")
	cmd.Flags().StringVar(&apiBase, "api-base", "", "Override the provider API base URL")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override the provider model")
	cmd.Flags().BoolVar(&preview, "preview", false, "List the files that would be processed and exit")
	return cmd
}

func newCurateCmd(opts *options) *cobra.Command {
	var (
		outDir    string
		threshold float64
		preview   bool
	)

	cmd := &cobra.Command{
		Use:   "curate <file|directory>",
		Short: "Rate generated QA pairs and keep those above a threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if preview {
				return showPreview("curate", args[0], "")
			}
			cfg := opts.config
			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.Curate.Threshold
			}

			client, err := llm.NewWithConfig(cfg.ClientConfig())
			if err != nil {
				return err
			}

			p := newProgress()
			wf, err := workflow.NewWithConfig(workflow.WorkflowConfig{
				Config:     cfg,
				Client:     client,
				OnProgress: p.handle,
			})
			if err != nil {
				return err
			}
			summary, err := wf.Curate(cmd.Context(), args[0], outDir, threshold)
			return report("Curated", summary, err)
		},
	}

	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Minimum rating kept (default curate.threshold)")
	cmd.Flags().StringVarP(&outDir, "output-dir", "o", "", "Where to write curated files (default paths.curated)")
	cmd.Flags().BoolVar(&preview, "preview", false, "List the files that would be curated and exit")
	return cmd
}

func newSaveAsCmd(opts *options) *cobra.Command {
	var (
		outDir     string
		fileFormat string
		storage    string
		preview    bool
	)

	cmd := &cobra.Command{
		Use:   "save-as <file|directory>",
		Short: "Convert datasets to a fine-tuning format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if preview {
				return showPreview("save-as", args[0], "")
			}
			p := newProgress()
			wf, err := workflow.NewWithConfig(workflow.WorkflowConfig{
				Config:     opts.config,
				OpenStore:  openStore(opts.config),
				OnProgress: p.handle,
			})
			if err != nil {
				return err
			}
			summary, err := wf.SaveAs(cmd.Context(), args[0], outDir, fileFormat, storage)
			return report("Saved", summary, err)
		},
	}

	cmd.Flags().StringVarP(&fileFormat, "format", "f", "", "Output format: jsonl, alpaca, ft or chatml (default format.default)")
	cmd.Flags().StringVar(&storage, "storage", workflow.StorageJSON, "Storage target: json or postgres")
	cmd.Flags().StringVarP(&outDir, "output-dir", "o", "", "Where to write converted files (default paths.final)")
	cmd.Flags().BoolVar(&preview, "preview", false, "List the files that would be converted and exit")
	return cmd
}

func newServerCmd(opts *options) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the workflows over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				return errs[0]
			}

			client, err := llm.NewWithConfig(cfg.ClientConfig())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewWithConfig(server.ServerConfig{
				Config:    cfg,
				Client:    client,
				OpenStore: openStore(cfg),
				Logger:    *zerolog.Ctx(ctx),
			})
			if err != nil {
				return err
			}

			color.Cyan("Serving on http://%s:%d (Ctrl+C to stop)", cfg.Server.Host, cfg.Server.Port)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default server.port)")
	return cmd
}

func endpoint(cfg *cfgPkg.Config) *cfgPkg.EndpointConfig {
	switch cfg.LLM.Provider {
	case llm.ProviderAPIEndpoint:
		return &cfg.APIEndpoint
	case llm.ProviderOllama:
		return &cfg.Ollama
	default:
		return &cfg.VLLM
	}
}

func openStore(cfg *cfgPkg.Config) func(ctx context.Context) (types.DatasetStore, error) {
	return func(ctx context.Context) (types.DatasetStore, error) {
		return store.NewWithConfig(ctx, cfg.StoreConfig())
	}
}

// progress renders workflow events. File events drive one bar per stage,
// chunk events a bar per source being generated and fetch events a page
// count on the ingest bar.
type progress struct {
	mu     sync.Mutex
	files  *progressbar.ProgressBar
	chunks *progressbar.ProgressBar
	source string
	pages  int
}

func newProgress() *progress {
	return &progress{}
}

func (p *progress) handle(e workflow.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Stage == workflow.StageFetch {
		p.pages++
		if p.files != nil {
			p.files.Describe(color.BlueString("ingest... (%d pages fetched)", p.pages))
		}
		return
	}

	if e.Chunks {
		if p.chunks == nil || p.source != e.Source {
			p.chunks = getProgressBar(e.Total, "Generating from "+filepath.Base(e.Source))
			p.source = e.Source
		}
		p.chunks.Set(e.Done)
		if e.Done >= e.Total {
			p.chunks.Finish()
			fmt.Print("\n")
		}
		return
	}

	// Chunk bars already show generation, so create only announces files.
	if e.Stage == "create" {
		if e.Source != "" {
			color.Cyan("Processing %s (%d/%d)", e.Source, e.Done+1, e.Total)
		}
		return
	}

	if p.files == nil {
		p.files = getProgressBar(e.Total, fmt.Sprintf("%s...", e.Stage))
	}
	p.files.Set(e.Done)
	if e.Source == "" {
		p.files.Finish()
		fmt.Print("\n")
	}
}

func showPreview(stage, input, contentType string) error {
	stats, err := workflow.Preview(stage, input, contentType)
	if err != nil {
		return err
	}

	color.Cyan("Preview of %s for %s", stage, stats.Input)
	fmt.Printf("  Total files:       %d\n", stats.TotalFiles)
	fmt.Printf("  Supported files:   %d\n", stats.SupportedFiles)
	fmt.Printf("  Unsupported files: %d\n", stats.UnsupportedFiles)

	if len(stats.ByExtension) > 0 {
		exts := make([]string, 0, len(stats.ByExtension))
		for ext := range stats.ByExtension {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		fmt.Println("  By extension:")
		for _, ext := range exts {
			fmt.Printf("    %s: %d\n", ext, stats.ByExtension[ext])
		}
	}

	if len(stats.Files) == 0 {
		color.Yellow("No supported files found")
		return nil
	}
	fmt.Println("  Files:")
	for _, f := range stats.Files {
		fmt.Printf("    %s\n", f)
	}
	return nil
}

// report prints the summary and turns a run where every file failed into
// an error.
func report(verb string, summary workflow.Summary, err error) error {
	if err != nil {
		return err
	}

	for _, r := range summary.Results {
		color.Green("✓ %s → %s (%d)", r.Source, r.Output, r.Items)
	}
	for _, e := range summary.Errors {
		color.Red("✗ %s: %s", e.Source, e.Error)
	}

	switch {
	case summary.Total == 0:
		color.Yellow("No matching input files found")
		return nil
	case summary.Successful == 0:
		return fmt.Errorf("all %d files failed", summary.Total)
	case summary.Failed > 0:
		color.Yellow("\n%s %d of %d files (%d failed)", verb, summary.Successful, summary.Total, summary.Failed)
	default:
		color.Green("\n%s %d of %d files", verb, summary.Successful, summary.Total)
	}
	return nil
}
