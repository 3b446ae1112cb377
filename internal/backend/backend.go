// Package backend executes data commands against one engine session. It is
// the only place that ties sources, the engine and the describer together;
// the shell and the one-shot CLI commands both go through it.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/describe"
	"github.com/KaramelBytes/dataforge-cli/internal/engine"
	"github.com/KaramelBytes/dataforge-cli/internal/logging"
	"github.com/KaramelBytes/dataforge-cli/internal/source"
)

// Options configures a Backend.
type Options struct {
	// HeadRows is used when Head is called with n <= 0. Defaults to 5.
	HeadRows int
	// Aggregators is the default describe set; nil selects describe.DefaultAggregators.
	Aggregators []describe.Aggregator
	Describe    describe.Options
	// Load supplies defaults (delimiter, encoding, row cap) for Connect.
	Load           source.Options
	EngineMaxConns int
	Logger         *slog.Logger
}

// Backend owns one session and remembers where each dataset came from.
type Backend struct {
	sess *engine.Session
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	sources map[string]source.Conn
}

// New opens a fresh session.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.HeadRows <= 0 {
		opts.HeadRows = 5
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("backend")
	}
	if opts.Describe.Logger == nil {
		opts.Describe.Logger = opts.Logger
	}
	sess, err := engine.NewSession(ctx, engine.Options{MaxOpenConns: opts.EngineMaxConns, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return &Backend{sess: sess, opts: opts, log: opts.Logger, sources: map[string]source.Conn{}}, nil
}

// Close releases the session.
func (b *Backend) Close() error { return b.sess.Close() }

// Session exposes the underlying engine session.
func (b *Backend) Session() *engine.Session { return b.sess }

// Connect loads conn and registers it as name, replacing an earlier dataset
// with the same name. Zero-valued fields of lo fall back to the backend defaults.
func (b *Backend) Connect(ctx context.Context, conn, name string, lo source.Options) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("a dataset name is required (-n)")
	}
	if lo.Delimiter == 0 {
		lo.Delimiter = b.opts.Load.Delimiter
	}
	if lo.Encoding == "" {
		lo.Encoding = b.opts.Load.Encoding
	}
	if lo.MaxRows == 0 {
		lo.MaxRows = b.opts.Load.MaxRows
	}
	if lo.Logger == nil {
		lo.Logger = logging.WithDataset(name)
	}

	t, c, err := source.Load(ctx, conn, lo)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	if err := b.sess.Register(ctx, name, t); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	b.mu.Lock()
	b.sources[name] = c
	b.mu.Unlock()
	b.log.Info("dataset connected", "dataset", name, "kind", c.Kind, "rows", t.NumRows(), "columns", len(t.Schema))
	return nil
}

// Disconnect drops a dataset.
func (b *Backend) Disconnect(ctx context.Context, name string) error {
	if err := b.sess.Deregister(ctx, name); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.sources, name)
	b.mu.Unlock()
	return nil
}

var listSchema = engine.Schema{
	{Name: "table_name", Type: engine.Utf8},
	{Name: "table_type", Type: engine.Utf8},
	{Name: "rows", Type: engine.Int64},
	{Name: "columns", Type: engine.Int64},
	{Name: "source", Type: engine.Utf8, Nullable: true},
}

// List returns one row per registered dataset, sorted by name.
func (b *Backend) List(context.Context) (*engine.Table, error) {
	t := &engine.Table{Schema: listSchema}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ti := range b.sess.Tables() {
		kind, src := "table", any(nil)
		if c, ok := b.sources[ti.Name]; ok {
			kind = datasetType(c)
			src = c.Raw
		}
		t.Rows = append(t.Rows, []any{ti.Name, kind, int64(ti.Rows), int64(len(ti.Schema)), src})
	}
	return t, nil
}

func datasetType(c source.Conn) string {
	switch c.Kind {
	case source.KindFile:
		if c.Compression != "" {
			return c.Format + "+" + c.Compression
		}
		return c.Format
	}
	return c.Kind
}

var schemaSchema = engine.Schema{
	{Name: "column_name", Type: engine.Utf8},
	{Name: "data_type", Type: engine.Utf8},
	{Name: "is_nullable", Type: engine.Utf8},
}

// Schema lists the columns of a dataset.
func (b *Backend) Schema(_ context.Context, name string) (*engine.Table, error) {
	df, err := b.sess.Table(name)
	if err != nil {
		return nil, err
	}
	t := &engine.Table{Schema: schemaSchema}
	for _, f := range df.Schema() {
		nullable := "NO"
		if f.Nullable {
			nullable = "YES"
		}
		t.Rows = append(t.Rows, []any{f.Name, f.Type.String(), nullable})
	}
	return t, nil
}

// DescribeOptions overrides backend defaults for one Describe call.
type DescribeOptions struct {
	Aggregators []describe.Aggregator
	Concurrency int
}

// Describe profiles a dataset.
func (b *Backend) Describe(ctx context.Context, name string, o DescribeOptions) (*engine.Table, error) {
	df, err := b.sess.Table(name)
	if err != nil {
		return nil, err
	}
	aggs := o.Aggregators
	if aggs == nil {
		aggs = b.opts.Aggregators
	}
	dopts := b.opts.Describe
	if o.Concurrency > 0 {
		dopts.Concurrency = o.Concurrency
	}
	start := time.Now()
	summary, err := describe.Describe(ctx, df, aggs, dopts)
	if err != nil {
		return nil, err
	}
	t, err := summary.Collect(ctx)
	if err != nil {
		return nil, err
	}
	b.log.Debug("dataset described", "dataset", name, "aggregators", t.NumRows(), "took", time.Since(start))
	return t, nil
}

// Head returns the first n rows (HeadRows when n <= 0).
func (b *Backend) Head(ctx context.Context, name string, n int) (*engine.Table, error) {
	if n <= 0 {
		n = b.opts.HeadRows
	}
	df, err := b.sess.Table(name)
	if err != nil {
		return nil, err
	}
	df, err = df.Limit(n)
	if err != nil {
		return nil, err
	}
	return df.Collect(ctx)
}

// SQL runs an ad-hoc query over the registered datasets.
func (b *Backend) SQL(ctx context.Context, query string) (*engine.Table, error) {
	df, err := b.sess.SQL(ctx, query)
	if err != nil {
		return nil, err
	}
	return df.Collect(ctx)
}
