package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), Options{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustRegister(t *testing.T, s *Session, name string, tbl *Table) *DataFrame {
	t.Helper()
	if err := s.Register(context.Background(), name, tbl); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	df, err := s.Table(name)
	if err != nil {
		t.Fatalf("table %s: %v", name, err)
	}
	return df
}

func mustCollect(t *testing.T, df *DataFrame) *Table {
	t.Helper()
	out, err := df.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v\nsql: %s", err, df.SQL())
	}
	return out
}

func TestDeclTypeRoundTrip(t *testing.T) {
	types := []DataType{
		Boolean, Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64,
		Float32, Float64, Utf8, Binary, Date32, Struct, Null,
		Timestamp(Second), Timestamp(Millisecond), Timestamp(Microsecond), Timestamp(Nanosecond),
		ListOf(Int64), ListOf(Utf8), ListOf(Timestamp(Millisecond)),
	}
	for _, dt := range types {
		got, ok := typeFromDecl(dt.declType())
		if !ok {
			t.Fatalf("decl %q not recognized", dt.declType())
		}
		if !got.Equal(dt) {
			t.Fatalf("decl %q: got %s want %s", dt.declType(), got, dt)
		}
		parsed, err := ParseDataType(dt.String())
		if err != nil || !parsed.Equal(dt) {
			t.Fatalf("parse %q: got %s, %v", dt.String(), parsed, err)
		}
	}
	if _, ok := typeFromDecl("VARCHAR(20)"); ok {
		t.Fatalf("foreign decl type should not be recognized")
	}
}

func TestQuantileInterpolates(t *testing.T) {
	cases := []struct {
		vals []float64
		q    float64
		want float64
	}{
		{[]float64{1, 2, 3}, 0.5, 2},
		{[]float64{1, 2, 3, 4}, 0.5, 2.5},
		{[]float64{1, 2, 3, 4, 5}, 0.25, 2},
		{[]float64{10, 20}, 0, 10},
		{[]float64{10, 20}, 1, 20},
	}
	for _, tc := range cases {
		if got := quantile(tc.vals, tc.q); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("quantile(%v, %v) = %v, want %v", tc.vals, tc.q, got, tc.want)
		}
	}
}

func numbersTable() *Table {
	return &Table{
		Schema: Schema{
			{Name: "x", Type: Int64, Nullable: true},
			{Name: "label", Type: Utf8, Nullable: true},
		},
		Rows: [][]any{
			{int64(1), "a"},
			{int64(2), "bb"},
			{int64(3), "ccc"},
			{nil, nil},
		},
	}
}

func TestAggregateBuiltins(t *testing.T) {
	s := newTestSession(t)
	df := mustRegister(t, s, "nums", numbersTable())

	agg, err := df.Aggregate(nil, []Expr{
		Alias(Count(Col("x")), "count"),
		Alias(Sum(Case().When(IsNull(Col("x")), Lit(1)).Otherwise(Lit(0))), "nulls"),
		Alias(Avg(Col("x")), "mean"),
		Alias(StdDev(Col("x")), "stddev"),
		Alias(Min(Col("x")), "min"),
		Alias(Max(Col("x")), "max"),
		Alias(Median(Col("x")), "median"),
		Alias(ApproxPercentileCont(Col("x"), 0.25), "p25"),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	out := mustCollect(t, agg)
	if out.NumRows() != 1 {
		t.Fatalf("expected one row, got %d", out.NumRows())
	}
	want := map[string]any{
		"count":  int64(3),
		"nulls":  int64(1),
		"mean":   2.0,
		"stddev": 1.0,
		"min":    int64(1),
		"max":    int64(3),
		"median": 2.0,
		"p25":    1.5,
	}
	for col, w := range want {
		got, err := out.Value(0, col)
		if err != nil {
			t.Fatalf("value %s: %v", col, err)
		}
		if got != w {
			t.Fatalf("%s = %#v, want %#v", col, got, w)
		}
	}
}

func TestAggregateWithoutExpressions(t *testing.T) {
	s := newTestSession(t)
	df := mustRegister(t, s, "nums", numbersTable())
	if _, err := df.Aggregate(nil, nil); !errors.Is(err, ErrNoAggregateExpr) {
		t.Fatalf("expected ErrNoAggregateExpr, got %v", err)
	}
	if _, err := df.Aggregate(nil, []Expr{Col("x")}); err == nil {
		t.Fatalf("expected error for non-aggregate expression")
	}
}

func TestGroupedAggregate(t *testing.T) {
	s := newTestSession(t)
	df := mustRegister(t, s, "sales", &Table{
		Schema: Schema{{Name: "region", Type: Utf8}, {Name: "amount", Type: Float64}},
		Rows:   [][]any{{"east", 1.5}, {"west", 2.0}, {"east", 2.5}},
	})
	agg, err := df.Aggregate([]Expr{Col("region")}, []Expr{Alias(Sum(Col("amount")), "total")})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	sorted, err := agg.Sort(Asc("region"))
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	out := mustCollect(t, sorted)
	if out.NumRows() != 2 || out.Rows[0][0] != "east" || out.Rows[0][1] != 4.0 || out.Rows[1][1] != 2.0 {
		t.Fatalf("unexpected groups: %#v", out.Rows)
	}
}

func TestProjectionLengths(t *testing.T) {
	s := newTestSession(t)
	df := mustRegister(t, s, "mixed", &Table{
		Schema: Schema{
			{Name: "tags", Type: ListOf(Int64), Nullable: true},
			{Name: "flag", Type: Boolean, Nullable: true},
			{Name: "name", Type: Utf8, Nullable: true},
		},
		Rows: [][]any{
			{[]any{int64(1), int64(2)}, true, "héllo"},
			{[]any{int64(3)}, false, "x"},
			{nil, nil, nil},
		},
	})
	proj, err := df.Select(
		Alias(ArrayLength(Col("tags")), "tags"),
		Alias(Length(Cast(Col("flag"), Utf8)), "flag"),
		Alias(Length(Col("name")), "name"),
	)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	out := mustCollect(t, proj)
	want := [][]any{
		{int64(2), int64(4), int64(5)},
		{int64(1), int64(5), int64(1)},
		{nil, nil, nil},
	}
	for r := range want {
		for c := range want[r] {
			if out.Rows[r][c] != want[r][c] {
				t.Fatalf("row %d col %d = %#v, want %#v", r, c, out.Rows[r][c], want[r][c])
			}
		}
	}
	tags, _ := mustCollect(t, df).Column("tags")
	list, ok := tags[0].([]any)
	if !ok || len(list) != 2 || list[1] != int64(2) {
		t.Fatalf("list round trip failed: %#v", tags[0])
	}
}

func TestTemporalCastRoundTrip(t *testing.T) {
	s := newTestSession(t)
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	df := mustRegister(t, s, "times", &Table{
		Schema: Schema{
			{Name: "ts", Type: Timestamp(Microsecond)},
			{Name: "day", Type: Date32},
		},
		Rows: [][]any{{ts, day}},
	})
	asFloat, err := df.Select(Alias(Cast(Col("ts"), Float64), "ts"), Alias(Cast(Col("day"), Float64), "day"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	floats := mustCollect(t, asFloat)
	if floats.Rows[0][0] != float64(ts.UnixMicro()) {
		t.Fatalf("ts as float = %v, want %v", floats.Rows[0][0], float64(ts.UnixMicro()))
	}
	back, err := asFloat.Select(Alias(Cast(Col("ts"), Timestamp(Microsecond)), "ts"), Alias(Cast(Col("day"), Date32), "day"))
	if err != nil {
		t.Fatalf("cast back: %v", err)
	}
	out := mustCollect(t, back)
	if got := out.Rows[0][0].(time.Time); !got.Equal(ts) {
		t.Fatalf("ts round trip = %v, want %v", got, ts)
	}
	if got := out.Rows[0][1].(time.Time); !got.Equal(day) {
		t.Fatalf("day round trip = %v, want %v", got, day)
	}
	text, err := df.Select(Alias(Cast(Col("ts"), Utf8), "ts"), Alias(Cast(Col("day"), Utf8), "day"))
	if err != nil {
		t.Fatalf("select text: %v", err)
	}
	tt := mustCollect(t, text)
	if tt.Rows[0][0] != "2024-03-01T12:30:45.123456" || tt.Rows[0][1] != "2024-03-01" {
		t.Fatalf("unexpected text rendering: %#v", tt.Rows[0])
	}
}

func TestUnionMatchesColumnsByName(t *testing.T) {
	s := newTestSession(t)
	a, err := s.FromTable(&Table{
		Schema: Schema{{Name: "k", Type: Utf8}, {Name: "v", Type: Int64}},
		Rows:   [][]any{{"b", int64(1)}},
	})
	if err != nil {
		t.Fatalf("from table: %v", err)
	}
	b, err := s.FromTable(&Table{
		Schema: Schema{{Name: "v", Type: Float64}, {Name: "k", Type: Utf8}},
		Rows:   [][]any{{2.5, "a"}, {nil, nil}},
	})
	if err != nil {
		t.Fatalf("from table: %v", err)
	}
	u, err := a.Union(b)
	if err != nil {
		t.Fatalf("union: %v", err)
	}
	if got := u.Schema()[1].Type; !got.Equal(Float64) {
		t.Fatalf("widened type = %s, want Float64", got)
	}
	sorted, err := u.Sort(Asc("k"))
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	out := mustCollect(t, sorted)
	if len(out.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out.Rows))
	}
	if out.Rows[0][0] != "a" || out.Rows[1][0] != "b" || out.Rows[2][0] != nil {
		t.Fatalf("expected ascending order with nulls last, got %#v", out.Rows)
	}
	if out.Rows[1][1] != 1.0 {
		t.Fatalf("expected widened float, got %#v", out.Rows[1][1])
	}

	other, _ := s.FromTable(&Table{Schema: Schema{{Name: "z", Type: Utf8}, {Name: "v", Type: Int64}}})
	if _, err := a.Union(other); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestSelectKeepsOrdering(t *testing.T) {
	s := newTestSession(t)
	df := mustRegister(t, s, "nums", numbersTable())
	sorted, err := df.Sort(Desc("x"))
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	proj, err := sorted.Select(Col("x"), Alias(Cast(Col("x"), Float64), "xf"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	limited, err := proj.Limit(2)
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	out := mustCollect(t, limited)
	if len(out.Rows) != 2 || out.Rows[0][0] != int64(3) || out.Rows[1][1] != 2.0 {
		t.Fatalf("unexpected rows: %#v", out.Rows)
	}
}

func TestSQLInfersTypes(t *testing.T) {
	s := newTestSession(t)
	mustRegister(t, s, "nums", numbersTable())
	df, err := s.SQL(context.Background(), `SELECT x, label, x * 1.5 AS scaled, 'k' AS tag FROM nums WHERE x IS NOT NULL;`)
	if err != nil {
		t.Fatalf("sql: %v", err)
	}
	schema := df.Schema()
	want := []DataType{Int64, Utf8, Float64, Utf8}
	for i, w := range want {
		if !schema[i].Type.Equal(w) {
			t.Fatalf("column %s type = %s, want %s", schema[i].Name, schema[i].Type, w)
		}
	}
	n, err := df.Count(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}
	if _, err := s.SQL(context.Background(), "SELECT * FROM missing"); err == nil {
		t.Fatalf("expected error for unknown table")
	} else {
		var qe *QueryError
		if !errors.As(err, &qe) {
			t.Fatalf("expected QueryError, got %T", err)
		}
	}
}

func TestSQLRejectsStatementsWithoutRows(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	before := len(mustCollect(t, mustRegister(t, s, "nums", numbersTable())).Rows)

	for _, q := range []string{
		"DROP TABLE nums",
		"  /* cleanup */ DELETE FROM nums",
		"-- reset\nINSERT INTO nums (x) VALUES (9)",
		"CREATE TABLE extra AS SELECT * FROM nums",
	} {
		if _, err := s.SQL(ctx, q); !errors.Is(err, ErrNotQuery) {
			t.Fatalf("%q: err = %v, want ErrNotQuery", q, err)
		}
	}
	// Accepted by the keyword check but must not leave side effects.
	_, _ = s.SQL(ctx, "WITH gone AS (SELECT 1) DELETE FROM nums RETURNING x")

	df, err := s.Table("nums")
	if err != nil {
		t.Fatalf("table after rejected statements: %v", err)
	}
	if got := len(mustCollect(t, df).Rows); got != before {
		t.Fatalf("rows = %d, want %d", got, before)
	}
	if _, err := s.SQL(ctx, "SELECT * FROM extra"); err == nil {
		t.Fatalf("rejected CREATE TABLE still created a table")
	}
}

func TestSQLTrailingLineComment(t *testing.T) {
	s := newTestSession(t)
	for _, q := range []string{"SELECT 1 AS a -- one row", "VALUES (1) -- one row;", "/* lead */ SELECT 1 AS a"} {
		df, err := s.SQL(context.Background(), q)
		if err != nil {
			t.Fatalf("%q: %v", q, err)
		}
		if got := mustCollect(t, df); len(got.Rows) != 1 {
			t.Fatalf("%q: rows = %#v", q, got.Rows)
		}
	}
}

func TestRegisterReplacesAndDeregisters(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	mustRegister(t, s, "nums", numbersTable())
	mustRegister(t, s, "nums", &Table{Schema: Schema{{Name: "only", Type: Utf8}}, Rows: [][]any{{"x"}}})
	tables := s.Tables()
	if len(tables) != 1 || tables[0].Rows != 1 || tables[0].Schema[0].Name != "only" {
		t.Fatalf("unexpected catalog: %#v", tables)
	}
	if err := s.Deregister(ctx, "nums"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := s.Table("nums"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
	err := s.Register(ctx, "dup", &Table{Schema: Schema{{Name: "a", Type: Utf8}, {Name: "a", Type: Int64}}})
	if !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("expected ErrDuplicateColumn, got %v", err)
	}
}

func TestInvalidPlans(t *testing.T) {
	s := newTestSession(t)
	df := mustRegister(t, s, "nums", numbersTable())
	if _, err := df.Select(Col("nope")); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
	if _, err := df.Select(Cast(Col("x"), ListOf(Int64))); !errors.Is(err, ErrUnsupportedCast) {
		t.Fatalf("expected ErrUnsupportedCast, got %v", err)
	}
	if _, err := df.Aggregate(nil, []Expr{ApproxPercentileCont(Col("x"), 1.5)}); err == nil {
		t.Fatalf("expected fraction error")
	}
	if _, err := df.Aggregate(nil, []Expr{Avg(Col("label"))}); err == nil {
		t.Fatalf("expected error averaging text")
	}
}
