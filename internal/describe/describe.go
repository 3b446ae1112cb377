// Package describe computes per-column summary statistics for a DataFrame.
//
// Every column is first reduced to a numeric proxy (numbers as-is, temporal
// values as epoch floats, lists as their length, everything else as the length
// of its text rendering). Each aggregator then runs as one ungrouped query over
// the proxies; the labelled single-row results are unioned, sorted by label,
// and temporal columns are cast back to their original types.
package describe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
	"github.com/KaramelBytes/dataforge-cli/internal/worker"
)

// LabelColumn is the name of the first summary column.
const LabelColumn = "describe"

// Sentinel is the text placed in cells where an aggregator does not apply.
const Sentinel = "null"

// Options tunes how aggregate queries are run.
type Options struct {
	// Concurrency is the number of aggregate queries in flight. Defaults to 1.
	Concurrency int
	// QueryTimeout bounds each aggregate query; zero means no limit.
	QueryTimeout time.Duration
	// RateLimitQPS caps aggregate queries per second; zero means no limit.
	RateLimitQPS float64
	Logger       *slog.Logger
}

// Describer profiles one dataset with a fixed aggregator list.
type Describer struct {
	original    *engine.DataFrame
	transformed *engine.DataFrame
	fields      engine.Schema
	aggregators []Aggregator
	opts        Options
	log         *slog.Logger
}

// New prepares a Describer. A nil aggregator list selects DefaultAggregators;
// an empty non-nil list is a configuration error.
func New(df *engine.DataFrame, aggregators []Aggregator, opts Options) (*Describer, error) {
	if df == nil {
		return nil, fmt.Errorf("describe: nil dataset")
	}
	if aggregators == nil {
		aggregators = DefaultAggregators()
	}
	if len(aggregators) == 0 {
		return nil, configErrorf("at least one aggregator is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fields := df.Schema()
	if fields.Index(LabelColumn) >= 0 {
		return nil, configErrorf("column name %q is reserved for the summary label", LabelColumn)
	}
	transformed := df
	if len(fields) > 0 {
		exprs := make([]engine.Expr, len(fields))
		for i, f := range fields {
			exprs[i] = transform(f)
		}
		var err error
		transformed, err = df.Select(exprs...)
		if err != nil {
			return nil, &TransformError{Err: err}
		}
	}
	return &Describer{
		original:    df,
		transformed: transformed,
		fields:      fields,
		aggregators: append([]Aggregator(nil), aggregators...),
		opts:        opts,
		log:         opts.Logger,
	}, nil
}

// Describe is a convenience for New followed by Describe.
func Describe(ctx context.Context, df *engine.DataFrame, aggregators []Aggregator, opts Options) (*engine.DataFrame, error) {
	d, err := New(df, aggregators, opts)
	if err != nil {
		return nil, err
	}
	return d.Describe(ctx)
}

// Describe returns the summary table: one row per aggregator, sorted by
// label, with one column per original field after the label column.
func (d *Describer) Describe(ctx context.Context) (*engine.DataFrame, error) {
	results, err := worker.ProcessAllWithCallback(ctx, d.aggregators, d.summaryRow,
		func(r worker.Result[Aggregator, *engine.DataFrame]) error {
			d.log.Debug("aggregator finished", "aggregator", r.Input.String(), "took", r.Took, "error", r.Err)
			return nil
		},
		worker.Options{
			Workers:       d.opts.Concurrency,
			Timeout:       d.opts.QueryTimeout,
			RateLimitQPS:  d.opts.RateLimitQPS,
			FailurePolicy: worker.FailurePolicyFailFast,
			MaxRetries:    2,
		})
	if err != nil {
		return nil, err
	}

	// Fold in configured order, not completion order.
	var summary *engine.DataFrame
	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		if summary == nil {
			summary = r.Output
			continue
		}
		if summary, err = summary.Union(r.Output); err != nil {
			return nil, fmt.Errorf("union %s row: %w", r.Input, err)
		}
	}
	sorted, err := summary.Sort(engine.Asc(LabelColumn))
	if err != nil {
		return nil, err
	}
	return d.castBack(sorted)
}

// summaryRow computes one aggregator over the transformed dataset and labels it.
func (d *Describer) summaryRow(ctx context.Context, a Aggregator) (*engine.DataFrame, error) {
	var exprs []engine.Expr
	for _, f := range d.fields {
		if !a.AppliesTo(f) {
			continue
		}
		e := a.expr(f.Name)
		// Plan each column alone so one unsupported column only costs its own cell.
		if _, err := d.transformed.Aggregate(nil, []engine.Expr{e}); err != nil {
			d.log.Debug("aggregator unsupported for column", "aggregator", a.String(), "column", f.Name, "error", err)
			continue
		}
		exprs = append(exprs, e)
	}

	raw := &engine.Table{Rows: [][]any{{}}}
	agg, err := d.transformed.Aggregate(nil, exprs)
	switch {
	case errors.Is(err, engine.ErrNoAggregateExpr):
		d.log.Debug("aggregator applies to no column", "aggregator", a.String())
	case err != nil:
		return nil, fmt.Errorf("plan %s: %w", a, err)
	default:
		raw, err = agg.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", a, err)
		}
		if raw.NumRows() != 1 {
			return nil, fmt.Errorf("compute %s: expected one row, got %d", a, raw.NumRows())
		}
	}

	rowDF, err := d.transformed.Session().FromTable(raw)
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", a, err)
	}
	labelled := make([]engine.Expr, 0, len(d.fields)+1)
	labelled = append(labelled, engine.Alias(engine.Lit(a.String()), LabelColumn))
	for _, f := range d.fields {
		t := summaryType(f)
		if raw.Schema.Index(f.Name) < 0 {
			labelled = append(labelled, engine.Alias(sentinel(t), f.Name))
			continue
		}
		labelled = append(labelled, engine.Alias(engine.Cast(engine.Col(f.Name), t), f.Name))
	}
	return rowDF.Select(labelled...)
}

func sentinel(t engine.DataType) engine.Expr {
	if t.Kind == engine.KindUtf8 {
		return engine.Lit(Sentinel)
	}
	return engine.TypedLit(nil, t)
}

// castBack restores temporal columns to their original types.
func (d *Describer) castBack(summary *engine.DataFrame) (*engine.DataFrame, error) {
	exprs := make([]engine.Expr, 0, len(d.fields)+1)
	exprs = append(exprs, engine.Col(LabelColumn))
	for _, f := range d.fields {
		if Classify(f) == Temporal {
			exprs = append(exprs, engine.Alias(engine.Cast(engine.Col(f.Name), f.Type), f.Name))
			continue
		}
		exprs = append(exprs, engine.Col(f.Name))
	}
	out, err := summary.Select(exprs...)
	if err != nil {
		return nil, fmt.Errorf("cast back: %w", err)
	}
	return out, nil
}
