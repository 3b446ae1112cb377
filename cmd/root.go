package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	cfgpkg "github.com/KaramelBytes/dataforge-cli/internal/config"
	"github.com/KaramelBytes/dataforge-cli/internal/logging"
	"github.com/KaramelBytes/dataforge-cli/internal/metrics"
	"github.com/KaramelBytes/dataforge-cli/internal/metrics/datadog"
	"github.com/KaramelBytes/dataforge-cli/internal/render"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile    string
	debug      bool
	flagFormat string

	// Loaded configuration
	cfg *cfgpkg.Global

	// closed after the command returns
	ddBackend *datadog.Backend
)

var rootCmd = &cobra.Command{
	Use:   "dataforge",
	Short: "Data Forge: connect, profile and query tabular datasets",
	Long: `Data Forge loads files and database tables into an in-memory SQL session
and lets you inspect them: list, schema, head, describe (per-column summary
statistics) and ad-hoc SQL. Run without a subcommand to start the shell.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd, nil)
	},
}

// Execute is the entry point called by main.main()
func Execute() {
	cobra.OnInitialize(loadConfig)
	err := rootCmd.Execute()
	shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.dataforge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "", "output format: table, csv, json, yaml, markdown (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: fall back to built-in defaults
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		c = cfgpkg.Defaults()
	}
	cfg = c

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	if err := logging.Init(logging.Config{Level: level, Format: cfg.LogFormat, OutputPath: cfg.LogFile}); err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: logging: %v\n", err)
	}

	if cfg.MetricsBackend == "datadog" {
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			Tags:       datadog.ParseTagsCSV(cfg.MetricsTags),
			FlushEvery: time.Duration(cfg.MetricsFlushSec) * time.Second,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠ Warning: %v\n", err)
			return
		}
		metrics.SetBackend(b)
		ddBackend = b
	}
}

func shutdown() {
	if ddBackend != nil {
		if err := ddBackend.Close(); err != nil {
			logging.GetLogger().Warn("metrics flush failed", "error", err)
		}
		metrics.SetBackend(nil)
		ddBackend = nil
	}
	_ = logging.Close()
}

// effectiveConfig is the loaded config, or the defaults when loadConfig has
// not run (tests drive rootCmd directly).
func effectiveConfig() *cfgpkg.Global {
	if cfg == nil {
		return cfgpkg.Defaults()
	}
	return cfg
}

// outputFormat applies --format over output_format.
func outputFormat() (render.Format, error) {
	if flagFormat != "" {
		return render.ParseFormat(flagFormat)
	}
	return render.ParseFormat(effectiveConfig().OutputFormat)
}
