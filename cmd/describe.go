package cmd

import (
	"context"

	"github.com/KaramelBytes/dataforge-cli/internal/backend"
	"github.com/KaramelBytes/dataforge-cli/internal/describe"
	"github.com/KaramelBytes/dataforge-cli/internal/engine"
	"github.com/spf13/cobra"
)

var (
	descAggs        []string
	descConcurrency int
	descLoad        loadFlags
)

var describeCmd = &cobra.Command{
	Use:   "describe <conn>",
	Short: "Print summary statistics for every column of a dataset",
	Long: `Describe loads one dataset and prints a summary table: one row per
aggregator (count, null_count, mean, stddev, min, max, median, percentile(p)),
one column per dataset column. Numeric columns are summarized as values,
dates and timestamps as instants, lists by their length, and everything else
by its text length. Cells where an aggregator does not apply show null.`,
	Example: `  dataforge describe data/cars.csv
  dataforge describe data/cars.parquet --agg count,mean,percentile(90)
  dataforge describe postgres://user@localhost/shop -t orders --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var aggs []describe.Aggregator
		if len(descAggs) > 0 {
			var err error
			if aggs, err = describe.ParseAggregators(descAggs); err != nil {
				return err
			}
		}
		opts := backend.DescribeOptions{Aggregators: aggs, Concurrency: descConcurrency}
		return runDataset(cmd, "describe", args[0], descLoad, func(ctx context.Context, b *backend.Backend, name string) (*engine.Table, error) {
			return b.Describe(ctx, name, opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().StringSliceVar(&descAggs, "agg", nil, "aggregators (default: describe_aggregators from config)")
	describeCmd.Flags().IntVar(&descConcurrency, "concurrency", 0, "aggregate queries in flight (default: describe_concurrency)")
	descLoad.register(describeCmd)
}
