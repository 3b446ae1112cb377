package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/metrics"
	"github.com/KaramelBytes/dataforge-cli/internal/render"
	"github.com/spf13/cobra"
)

var sqlLoads []string

var sqlCmd = &cobra.Command{
	Use:   `sql --load name=<conn> [--load ...] "<query>"`,
	Short: "Run a SQL query over one or more datasets",
	Example: `  dataforge sql --load cars=data/cars.csv "SELECT make, avg(mpg) FROM cars GROUP BY make"
  dataforge sql --load o=shop.db --load c=customers.parquet "SELECT count(*) FROM o JOIN c USING (customer_id)"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { metrics.RecordCommand("sql", err, time.Since(start)) }()

		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return fmt.Errorf("a query is required")
		}
		format, err := outputFormat()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		b, err := newBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()
		if err := connectLoads(ctx, b, sqlLoads); err != nil {
			return err
		}
		t, err := b.SQL(ctx, query)
		if err != nil {
			return err
		}
		return render.Write(cmd.OutOrStdout(), t, format)
	},
}

func init() {
	rootCmd.AddCommand(sqlCmd)
	sqlCmd.Flags().StringArrayVar(&sqlLoads, "load", nil, "dataset to register: name=connection (repeatable)")
}
