package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/KaramelBytes/dataforge-cli/internal/shell"
	"github.com/KaramelBytes/dataforge-cli/internal/source"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var shellLoads []string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive Data Forge shell",
	Long: `Start the interactive shell. Datasets listed under "datasets" in the config
are connected first; --load name=connection adds (or replaces) more.

Shell commands: connect, list, schema, describe, head, sql, disconnect, help, exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd, shellLoads)
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().StringArrayVar(&shellLoads, "load", nil, "connect a dataset at startup: name=connection (repeatable)")
}

func runShell(cmd *cobra.Command, loads []string) error {
	ctx := cmd.Context()
	format, err := outputFormat()
	if err != nil {
		return err
	}
	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	datasets := effectiveConfig().Datasets
	names := make([]string, 0, len(datasets))
	for n := range datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := b.Connect(ctx, datasets[n], n, source.Options{}); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Warning: %v\n", err)
		}
	}
	if err := connectLoads(ctx, b, loads); err != nil {
		return err
	}

	in := cmd.InOrStdin()
	quiet := false
	if f, ok := in.(*os.File); ok {
		quiet = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	sh := shell.New(b, shell.Options{In: in, Out: cmd.OutOrStdout(), Format: format, Quiet: quiet})
	defer sh.Close()
	return sh.Run(ctx)
}
