package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	cfgPkg "github.com/xhad/synthdata/pkg/config"
)

// options holds the persistent flags and the configuration resolved from
// them before any subcommand runs.
type options struct {
	configPath string
	verbose    bool
	debug      bool

	config *cfgPkg.Config
}

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "synthdata",
		Short:         "Synthetic dataset generation",
		Long:          `Ingest documents, generate QA pairs and reasoning examples with an LLM, curate them and export fine-tuning datasets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show informational logs")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Show debug logs")

	rootCmd.AddCommand(newSystemCheckCmd(opts))
	rootCmd.AddCommand(newIngestCmd(opts))
	rootCmd.AddCommand(newCreateCmd(opts))
	rootCmd.AddCommand(newCurateCmd(opts))
	rootCmd.AddCommand(newSaveAsCmd(opts))
	rootCmd.AddCommand(newServerCmd(opts))

	return rootCmd
}

// load resolves the configuration, validates it and attaches a console
// logger to the command context.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := cfgPkg.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	cfg.Log.Verbose = cfg.Log.Verbose || o.verbose
	cfg.Log.Debug = cfg.Log.Debug || o.debug

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s", e.Error())
		}
		return fmt.Errorf("invalid configuration: %d error(s)", len(errs))
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(cfg.Log.Level()).
		With().
		Timestamp().
		Logger()
	log.Logger = logger

	cmd.SetContext(logger.WithContext(cmd.Context()))
	o.config = cfg
	return nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
