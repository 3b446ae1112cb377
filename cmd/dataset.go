package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/backend"
	"github.com/KaramelBytes/dataforge-cli/internal/engine"
	"github.com/KaramelBytes/dataforge-cli/internal/metrics"
	"github.com/KaramelBytes/dataforge-cli/internal/render"
	"github.com/spf13/cobra"
)

// oneShotName is the name a one-shot command registers its dataset under.
const oneShotName = "data"

var (
	schemaLoad loadFlags
	headLoad   loadFlags
	headRows   int
)

var schemaCmd = &cobra.Command{
	Use:   "schema <conn>",
	Short: "Print the column names and types of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDataset(cmd, "schema", args[0], schemaLoad, func(ctx context.Context, b *backend.Backend, name string) (*engine.Table, error) {
			return b.Schema(ctx, name)
		})
	},
}

var headCmd = &cobra.Command{
	Use:   "head <conn>",
	Short: "Print the first rows of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if headRows < 0 {
			return fmt.Errorf("--size must not be negative")
		}
		return runDataset(cmd, "head", args[0], headLoad, func(ctx context.Context, b *backend.Backend, name string) (*engine.Table, error) {
			return b.Head(ctx, name, headRows)
		})
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(headCmd)
	schemaLoad.register(schemaCmd)
	headLoad.register(headCmd)
	headCmd.Flags().IntVarP(&headRows, "size", "s", 0, "number of rows (default: head_rows)")
}

// runDataset loads conn into a fresh session, runs fn on it and prints the result.
func runDataset(cmd *cobra.Command, command, conn string, lf loadFlags, fn func(context.Context, *backend.Backend, string) (*engine.Table, error)) (err error) {
	start := time.Now()
	defer func() { metrics.RecordCommand(command, err, time.Since(start)) }()

	ctx := cmd.Context()
	format, err := outputFormat()
	if err != nil {
		return err
	}
	lo, err := lf.options()
	if err != nil {
		return err
	}
	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Connect(ctx, conn, oneShotName, lo); err != nil {
		return err
	}
	t, err := fn(ctx, b, oneShotName)
	if err != nil {
		return err
	}
	return render.Write(cmd.OutOrStdout(), t, format)
}
