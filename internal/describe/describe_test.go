package describe

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

func newFrame(t *testing.T, tbl *engine.Table) *engine.DataFrame {
	t.Helper()
	ctx := context.Background()
	s, err := engine.NewSession(ctx, engine.Options{MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Register(ctx, "data", tbl); err != nil {
		t.Fatalf("register: %v", err)
	}
	df, err := s.Table("data")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	return df
}

func describeTable(t *testing.T, df *engine.DataFrame, aggs []Aggregator, opts Options) *engine.Table {
	t.Helper()
	summary, err := Describe(context.Background(), df, aggs, opts)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	out, err := summary.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect summary: %v", err)
	}
	return out
}

// cell returns the value in the row labelled label for column.
func cell(t *testing.T, tbl *engine.Table, label, column string) any {
	t.Helper()
	col := tbl.Schema.Index(column)
	if col < 0 {
		t.Fatalf("no column %q in %v", column, tbl.Schema.Names())
	}
	for _, row := range tbl.Rows {
		if row[0] == label {
			return row[col]
		}
	}
	t.Fatalf("no row labelled %q", label)
	return nil
}

func mixedTable() *engine.Table {
	ts := func(s string) time.Time {
		v, _ := time.Parse(time.RFC3339, s)
		return v
	}
	return &engine.Table{
		Schema: engine.Schema{
			{Name: "amount", Type: engine.Float64, Nullable: true},
			{Name: "qty", Type: engine.Int32, Nullable: true},
			{Name: "at", Type: engine.Timestamp(engine.Second), Nullable: true},
			{Name: "tags", Type: engine.ListOf(engine.Utf8), Nullable: true},
			{Name: "name", Type: engine.Utf8, Nullable: true},
			{Name: "ok", Type: engine.Boolean, Nullable: true},
		},
		Rows: [][]any{
			{1.5, int64(3), ts("2024-01-01T00:00:00Z"), []any{"a", "b"}, "ann", true},
			{2.5, int64(5), ts("2024-01-03T00:00:00Z"), []any{"c"}, "bo", false},
			{nil, nil, nil, nil, nil, nil},
		},
	}
}

func TestDescribeShapeAndLabels(t *testing.T) {
	df := newFrame(t, mixedTable())
	out := describeTable(t, df, nil, Options{})

	if got, want := len(out.Rows), 8; got != want {
		t.Fatalf("rows = %d, want %d", got, want)
	}
	wantCols := []string{"describe", "amount", "qty", "at", "tags", "name", "ok"}
	if !reflect.DeepEqual(out.Schema.Names(), wantCols) {
		t.Fatalf("columns = %v, want %v", out.Schema.Names(), wantCols)
	}
	labels := make([]string, len(out.Rows))
	for i, row := range out.Rows {
		labels[i] = row[0].(string)
	}
	want := []string{"count", "max", "mean", "median", "min", "null_count", "percentile(25)", "stddev"}
	if !reflect.DeepEqual(labels, want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	if !sort.StringsAreSorted(labels) {
		t.Fatalf("labels not sorted: %v", labels)
	}

	types := map[string]engine.DataType{
		"describe": engine.Utf8,
		"amount":   engine.Float64,
		"qty":      engine.Float64,
		"at":       engine.Timestamp(engine.Second),
		"tags":     engine.Utf8,
		"name":     engine.Utf8,
		"ok":       engine.Utf8,
	}
	for _, f := range out.Schema {
		if !f.Type.Equal(types[f.Name]) {
			t.Fatalf("column %s type = %s, want %s", f.Name, f.Type, types[f.Name])
		}
	}
}

func TestDescribeMixedValues(t *testing.T) {
	df := newFrame(t, mixedTable())
	out := describeTable(t, df, nil, Options{})

	checks := []struct {
		label, column string
		want          any
	}{
		{"count", "amount", 2.0},
		{"null_count", "amount", 1.0},
		{"mean", "amount", 2.0},
		{"min", "qty", 3.0},
		{"max", "qty", 5.0},
		{"count", "tags", "2"},
		{"max", "tags", "2"},
		{"min", "tags", "1"},
		{"max", "name", "3"},
		{"count", "ok", "2"},
		{"null_count", "ok", "1"},
		{"min", "ok", Sentinel},
		{"max", "ok", Sentinel},
		{"max", "at", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		{"min", "at", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"median", "at", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range checks {
		got := cell(t, out, c.label, c.column)
		if wt, ok := c.want.(time.Time); ok {
			gt, ok := got.(time.Time)
			if !ok || !gt.Equal(wt) {
				t.Fatalf("%s/%s = %#v, want %v", c.label, c.column, got, wt)
			}
			continue
		}
		if got != c.want {
			t.Fatalf("%s/%s = %#v, want %#v", c.label, c.column, got, c.want)
		}
	}
}

func TestDescribeNumericScenario(t *testing.T) {
	df := newFrame(t, &engine.Table{
		Schema: engine.Schema{{Name: "x", Type: engine.Int64, Nullable: true}},
		Rows:   [][]any{{int64(1)}, {int64(2)}, {int64(3)}, {nil}},
	})
	out := describeTable(t, df, nil, Options{})
	want := map[string]any{
		"count":          3.0,
		"null_count":     1.0,
		"mean":           2.0,
		"min":            1.0,
		"max":            3.0,
		"median":         2.0,
		"stddev":         1.0,
		"percentile(25)": 1.5,
	}
	for label, w := range want {
		if got := cell(t, out, label, "x"); got != w {
			t.Fatalf("%s = %#v, want %#v", label, got, w)
		}
	}
	mean := cell(t, out, "mean", "x").(float64)
	if mean < cell(t, out, "min", "x").(float64) || mean > cell(t, out, "max", "x").(float64) {
		t.Fatalf("mean %v outside [min, max]", mean)
	}
}

func TestDescribeBooleanOnlyColumn(t *testing.T) {
	df := newFrame(t, &engine.Table{
		Schema: engine.Schema{{Name: "flag", Type: engine.Boolean, Nullable: true}},
		Rows:   [][]any{{true}, {false}, {nil}},
	})
	out := describeTable(t, df, nil, Options{})
	if got := cell(t, out, "min", "flag"); got != Sentinel {
		t.Fatalf("min = %#v, want sentinel", got)
	}
	if got := cell(t, out, "max", "flag"); got != Sentinel {
		t.Fatalf("max = %#v, want sentinel", got)
	}
	if got := cell(t, out, "count", "flag"); got != "2" {
		t.Fatalf("count = %#v, want \"2\"", got)
	}
	if got := cell(t, out, "null_count", "flag"); got != "1" {
		t.Fatalf("null_count = %#v, want \"1\"", got)
	}
}

func TestDescribeListColumn(t *testing.T) {
	df := newFrame(t, &engine.Table{
		Schema: engine.Schema{{Name: "l", Type: engine.ListOf(engine.Int64), Nullable: true}},
		Rows:   [][]any{{[]any{int64(1), int64(2)}}, {[]any{int64(3)}}, {nil}},
	})
	d, err := New(df, []Aggregator{Count, Max}, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	proxy, err := d.transformed.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect proxy: %v", err)
	}
	got, _ := proxy.Column("l")
	if !reflect.DeepEqual(got, []any{int64(2), int64(1), nil}) {
		t.Fatalf("proxy = %#v", got)
	}
	summary, err := d.Describe(context.Background())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	out, err := summary.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := cell(t, out, "count", "l"); got != "2" {
		t.Fatalf("count = %#v", got)
	}
	if got := cell(t, out, "max", "l"); got != "2" {
		t.Fatalf("max = %#v", got)
	}
}

func TestDescribeBinaryColumnCountsBytes(t *testing.T) {
	df := newFrame(t, &engine.Table{
		Schema: engine.Schema{{Name: "b", Type: engine.Binary, Nullable: true}},
		Rows:   [][]any{{[]byte{1, 0, 2, 3}}, {[]byte("ab")}, {nil}},
	})
	d, err := New(df, []Aggregator{Count, Max}, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	proxy, err := d.transformed.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect proxy: %v", err)
	}
	got, _ := proxy.Column("b")
	if !reflect.DeepEqual(got, []any{int64(4), int64(2), nil}) {
		t.Fatalf("proxy = %#v", got)
	}
	summary, err := d.Describe(context.Background())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	out, err := summary.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := cell(t, out, "max", "b"); got != "4" {
		t.Fatalf("max = %#v, want \"4\"", got)
	}
}

func TestDescribeIsIdempotentAndConcurrent(t *testing.T) {
	df := newFrame(t, mixedTable())
	first := describeTable(t, df, nil, Options{})
	second := describeTable(t, df, nil, Options{Concurrency: 4, QueryTimeout: 10 * time.Second})
	if !reflect.DeepEqual(first.Rows, second.Rows) {
		t.Fatalf("results differ:\n%v\n%v", first.Rows, second.Rows)
	}
}

func TestDescribeCustomAggregators(t *testing.T) {
	df := newFrame(t, &engine.Table{
		Schema: engine.Schema{{Name: "v", Type: engine.Float64}},
		Rows:   [][]any{{10.0}, {20.0}, {30.0}, {40.0}, {50.0}},
	})
	aggs, err := ParseAggregators([]string{"percentile(75),mean", "p0"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := describeTable(t, df, aggs, Options{})
	if len(out.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(out.Rows))
	}
	if got := cell(t, out, "percentile(75)", "v"); got != 40.0 {
		t.Fatalf("p75 = %#v, want 40", got)
	}
	if got := cell(t, out, "percentile(0)", "v"); got != 10.0 {
		t.Fatalf("p0 = %#v, want 10", got)
	}
}

func TestDescribeEmptySchema(t *testing.T) {
	df := newFrame(t, &engine.Table{Rows: [][]any{{}, {}}})
	out := describeTable(t, df, []Aggregator{Count, Mean}, Options{})
	if len(out.Rows) != 2 || len(out.Schema) != 1 {
		t.Fatalf("unexpected summary: %v %v", out.Schema.Names(), out.Rows)
	}
}

func TestConfigurationErrors(t *testing.T) {
	if _, err := Percentile(150); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for 150, got %v", err)
	}
	for _, p := range []int{0, 100} {
		if _, err := Percentile(p); err != nil {
			t.Fatalf("percentile(%d): %v", p, err)
		}
	}
	df := newFrame(t, &engine.Table{Schema: engine.Schema{{Name: "x", Type: engine.Int64}}})
	if _, err := New(df, []Aggregator{}, Options{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for empty list, got %v", err)
	}
	if _, err := ParseAggregator("mode"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown name, got %v", err)
	}
	reserved := newFrame(t, &engine.Table{Schema: engine.Schema{{Name: "describe", Type: engine.Utf8}}})
	if _, err := New(reserved, nil, Options{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for reserved column, got %v", err)
	}
}

func TestDescribeFailsWhenEngineFails(t *testing.T) {
	ctx := context.Background()
	s, err := engine.NewSession(ctx, engine.Options{MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := s.Register(ctx, "data", mixedTable()); err != nil {
		t.Fatalf("register: %v", err)
	}
	df, err := s.Table("data")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, n := range []int{1, 4} {
		summary, err := Describe(ctx, df, nil, Options{Concurrency: n})
		if err == nil || summary != nil {
			t.Fatalf("concurrency %d: summary = %v, err = %v; want nil frame and error", n, summary, err)
		}
	}

	live := newFrame(t, mixedTable())
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if summary, err := Describe(cancelled, live, nil, Options{Concurrency: 4}); err == nil || summary != nil {
		t.Fatalf("cancelled: summary = %v, err = %v", summary, err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		t    engine.DataType
		want Class
	}{
		{engine.Int8, Numeric},
		{engine.UInt64, Numeric},
		{engine.Float32, Numeric},
		{engine.Date32, Temporal},
		{engine.Timestamp(engine.Nanosecond), Temporal},
		{engine.ListOf(engine.Int64), NestedList},
		{engine.Utf8, Other},
		{engine.Boolean, Other},
		{engine.Binary, Other},
		{engine.Struct, Other},
	}
	for _, tc := range cases {
		if got := Classify(engine.Field{Name: "c", Type: tc.t}); got != tc.want {
			t.Fatalf("Classify(%s) = %s, want %s", tc.t, got, tc.want)
		}
	}
}

func TestParseAggregatorNames(t *testing.T) {
	for _, a := range DefaultAggregators() {
		got, err := ParseAggregator(a.String())
		if err != nil || got != a {
			t.Fatalf("ParseAggregator(%q) = %v, %v", a.String(), got, err)
		}
	}
}
