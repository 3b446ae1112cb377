package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/backend"
	"github.com/KaramelBytes/dataforge-cli/internal/describe"
	"github.com/KaramelBytes/dataforge-cli/internal/source"
	"github.com/spf13/cobra"
)

// newBackend opens a session configured from the effective config.
func newBackend(ctx context.Context) (*backend.Backend, error) {
	c := effectiveConfig()
	aggs, err := describe.ParseAggregators(c.DescribeAggregators)
	if err != nil {
		return nil, fmt.Errorf("describe_aggregators: %w", err)
	}
	delim, err := source.ParseDelimiter(c.CSVDelimiter)
	if err != nil {
		return nil, fmt.Errorf("csv_delimiter: %w", err)
	}
	return backend.New(ctx, backend.Options{
		HeadRows:    c.HeadRows,
		Aggregators: aggs,
		Describe: describe.Options{
			Concurrency:  c.DescribeConcurrency,
			QueryTimeout: time.Duration(c.DescribeQueryTimeoutSec) * time.Second,
			RateLimitQPS: c.DescribeRateLimitQPS,
		},
		Load:           source.Options{Delimiter: delim, Encoding: c.CSVEncoding, MaxRows: c.MaxRows},
		EngineMaxConns: c.EngineMaxConns,
	})
}

// loadFlags are the per-dataset loading flags shared by the one-shot commands.
type loadFlags struct {
	table     string
	sheet     string
	delimiter string
	encoding  string
	noHeader  bool
}

func (l *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&l.table, "table", "t", "", "database table, xlsx sheet or html table index")
	cmd.Flags().StringVar(&l.sheet, "sheet", "", "xlsx sheet name or 1-based index")
	cmd.Flags().StringVar(&l.delimiter, "delimiter", "", "csv delimiter (default: config, or by extension)")
	cmd.Flags().StringVar(&l.encoding, "encoding", "", "text encoding, e.g. utf-8, utf-16, latin1")
	cmd.Flags().BoolVar(&l.noHeader, "no-header", false, "first row is data, not a header")
}

func (l loadFlags) options() (source.Options, error) {
	delim, err := source.ParseDelimiter(l.delimiter)
	if err != nil {
		return source.Options{}, err
	}
	return source.Options{Table: l.table, Sheet: l.sheet, Delimiter: delim, Encoding: l.encoding, NoHeader: l.noHeader}, nil
}

// parseLoad splits a --load value of the form name=connection.
func parseLoad(s string) (name, conn string, err error) {
	name, conn, ok := strings.Cut(s, "=")
	name, conn = strings.TrimSpace(name), strings.TrimSpace(conn)
	if !ok || name == "" || conn == "" {
		return "", "", fmt.Errorf("invalid --load %q (want name=connection)", s)
	}
	return name, conn, nil
}

// connectLoads registers every --load value in order.
func connectLoads(ctx context.Context, b *backend.Backend, loads []string) error {
	for _, l := range loads {
		name, conn, err := parseLoad(l)
		if err != nil {
			return err
		}
		if err := b.Connect(ctx, conn, name, source.Options{}); err != nil {
			return err
		}
	}
	return nil
}
