package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataforge-cli/internal/backend"
	"github.com/KaramelBytes/dataforge-cli/internal/describe"
	"github.com/KaramelBytes/dataforge-cli/internal/engine"
	"github.com/KaramelBytes/dataforge-cli/internal/render"
	"github.com/KaramelBytes/dataforge-cli/internal/source"
)

// newCommandTree builds a fresh cobra tree for one input line, so flag values
// never leak between lines.
func (s *Shell) newCommandTree(ctx context.Context) *cobra.Command {
	var format string
	root := &cobra.Command{
		Use:           "dataforge",
		Short:         "Data Forge shell commands (exit or quit to leave)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&format, "format", string(s.format), "output format: table, csv, json, yaml, markdown")

	// table runs fn on the dispatcher and renders its result.
	table := func(cmd *cobra.Command, name string, fn func(context.Context, *backend.Backend) (*engine.Table, error)) error {
		f, err := render.ParseFormat(format)
		if err != nil {
			return err
		}
		out, err := s.disp.Do(ctx, name, func(ctx context.Context, b *backend.Backend) (string, error) {
			t, err := fn(ctx, b)
			if err != nil {
				return "", err
			}
			return render.String(t, f)
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}

	var (
		cName, cTable, cSheet, cDelim, cEnc string
		cNoHeader                           bool
	)
	connectCmd := &cobra.Command{
		Use:   "connect <conn>",
		Short: "Connect to a dataset and register it under a name",
		Long: `Connect loads a dataset into the session.

Supported connections: postgres:// or postgresql:// URLs, sqlserver:// URLs,
sqlite://<path> or *.db/*.sqlite/*.sqlite3 files, and csv, tsv, json, ndjson,
jsonl, parquet, xlsx and html files (csv/tsv/json/ndjson/html may end in .gz or .bz2).
-t names the database table, the xlsx sheet or the 1-based html table index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim, err := source.ParseDelimiter(cDelim)
			if err != nil {
				return err
			}
			lo := source.Options{Table: cTable, Sheet: cSheet, Delimiter: delim, Encoding: cEnc, NoHeader: cNoHeader}
			conn := args[0]
			out, err := s.disp.Do(ctx, "connect", func(ctx context.Context, b *backend.Backend) (string, error) {
				if err := b.Connect(ctx, conn, cName, lo); err != nil {
					return "", err
				}
				return fmt.Sprintf("✓ Connected %s\n", strings.TrimSpace(cName)), nil
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	connectCmd.Flags().StringVarP(&cName, "name", "n", "", "dataset name")
	connectCmd.Flags().StringVarP(&cTable, "table", "t", "", "database table, xlsx sheet or html table index")
	connectCmd.Flags().StringVar(&cSheet, "sheet", "", "xlsx sheet name or 1-based index")
	connectCmd.Flags().StringVar(&cDelim, "delimiter", "", "csv delimiter (default: , or tab for .tsv)")
	connectCmd.Flags().StringVar(&cEnc, "encoding", "", "text encoding, e.g. utf-8, utf-16, latin1")
	connectCmd.Flags().BoolVar(&cNoHeader, "no-header", false, "first row is data, not a header")
	_ = connectCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all registered datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return table(cmd, "list", func(ctx context.Context, b *backend.Backend) (*engine.Table, error) {
				return b.List(ctx)
			})
		},
	}

	var sName string
	schemaCmd := &cobra.Command{
		Use:   "schema <name>",
		Short: "Get the schema of a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := datasetName(sName, args)
			if err != nil {
				return err
			}
			return table(cmd, "schema", func(ctx context.Context, b *backend.Backend) (*engine.Table, error) {
				return b.Schema(ctx, name)
			})
		},
	}
	schemaCmd.Flags().StringVarP(&sName, "name", "n", "", "dataset name")

	var (
		dName string
		dAggs []string
		dConc int
	)
	describeCmd := &cobra.Command{
		Use:   "describe -n <name>",
		Short: "Describe a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := datasetName(dName, args)
			if err != nil {
				return err
			}
			var aggs []describe.Aggregator
			if len(dAggs) > 0 {
				if aggs, err = describe.ParseAggregators(dAggs); err != nil {
					return err
				}
			}
			return table(cmd, "describe", func(ctx context.Context, b *backend.Backend) (*engine.Table, error) {
				return b.Describe(ctx, name, backend.DescribeOptions{Aggregators: aggs, Concurrency: dConc})
			})
		},
	}
	describeCmd.Flags().StringVarP(&dName, "name", "n", "", "dataset name")
	describeCmd.Flags().StringSliceVar(&dAggs, "agg", nil, "aggregators, e.g. count,mean,percentile(90)")
	describeCmd.Flags().IntVar(&dConc, "concurrency", 0, "aggregate queries in flight")

	var (
		hName string
		hRows int
	)
	headCmd := &cobra.Command{
		Use:   "head -n <name>",
		Short: "Take the first n rows of a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := datasetName(hName, args)
			if err != nil {
				return err
			}
			if hRows < 0 {
				return fmt.Errorf("row count must not be negative")
			}
			return table(cmd, "head", func(ctx context.Context, b *backend.Backend) (*engine.Table, error) {
				return b.Head(ctx, name, hRows)
			})
		},
	}
	headCmd.Flags().StringVarP(&hName, "name", "n", "", "dataset name")
	headCmd.Flags().IntVarP(&hRows, "size", "s", 0, "number of rows (default head_rows)")

	var query string
	sqlCmd := &cobra.Command{
		Use:   `sql --sql "<query>"`,
		Short: "Run a SQL query on the registered datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := query
			if q == "" {
				q = strings.Join(args, " ")
			}
			if strings.TrimSpace(q) == "" {
				return fmt.Errorf("a query is required (--sql)")
			}
			return table(cmd, "sql", func(ctx context.Context, b *backend.Backend) (*engine.Table, error) {
				return b.SQL(ctx, q)
			})
		},
	}
	sqlCmd.Flags().StringVar(&query, "sql", "", "SQL query")

	var xName string
	disconnectCmd := &cobra.Command{
		Use:   "disconnect <name>",
		Short: "Remove a registered dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := datasetName(xName, args)
			if err != nil {
				return err
			}
			out, err := s.disp.Do(ctx, "disconnect", func(ctx context.Context, b *backend.Backend) (string, error) {
				if err := b.Disconnect(ctx, name); err != nil {
					return "", err
				}
				return fmt.Sprintf("✓ Disconnected %s\n", name), nil
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	disconnectCmd.Flags().StringVarP(&xName, "name", "n", "", "dataset name")

	root.AddCommand(connectCmd, listCmd, schemaCmd, describeCmd, headCmd, sqlCmd, disconnectCmd)
	return root
}

// datasetName takes the -n flag, or the single positional argument.
func datasetName(flag string, args []string) (string, error) {
	switch {
	case flag != "" && len(args) > 0 && args[0] != flag:
		return "", fmt.Errorf("dataset given twice: -n %s and %s", flag, args[0])
	case flag != "":
		return flag, nil
	case len(args) == 1:
		return args[0], nil
	}
	return "", fmt.Errorf("a dataset name is required (-n)")
}
