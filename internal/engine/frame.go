package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DataFrame is an immutable, lazily evaluated query over a Session. Every
// transformation returns a new DataFrame; nothing runs until Collect or Count.
type DataFrame struct {
	sess   *Session
	query  string
	schema Schema
	order  []SortKey
}

// Schema returns a copy of the frame's fields.
func (df *DataFrame) Schema() Schema { return append(Schema(nil), df.schema...) }

// Session returns the session the frame reads from.
func (df *DataFrame) Session() *Session { return df.sess }

// SQL returns the query text Collect would run.
func (df *DataFrame) SQL() string { return df.finalQuery() }

func (df *DataFrame) derive(query string, schema Schema, order []SortKey) *DataFrame {
	return &DataFrame{sess: df.sess, query: query, schema: schema, order: order}
}

func (df *DataFrame) from() string { return " FROM (" + df.query + ") AS t" }

func compileAll(s Schema, exprs []Expr) ([]compiled, error) {
	out := make([]compiled, len(exprs))
	for i, e := range exprs {
		if e == nil {
			return nil, fmt.Errorf("expression %d is nil", i)
		}
		c, err := e.compile(s)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func outputSchema(cs []compiled) (Schema, []string, error) {
	schema := make(Schema, len(cs))
	sel := make([]string, len(cs))
	for i, c := range cs {
		schema[i] = Field{Name: c.name, Type: c.typ, Nullable: c.nullable}
		sel[i] = c.sql + " AS " + quoteIdent(c.name)
	}
	if err := schema.validate(); err != nil {
		return nil, nil, err
	}
	return schema, sel, nil
}

// Select projects the frame through exprs. The ordering of a sorted frame
// survives when every sort column is projected unchanged.
func (df *DataFrame) Select(exprs ...Expr) (*DataFrame, error) {
	if len(exprs) == 0 {
		return nil, fmt.Errorf("select needs at least one expression")
	}
	cs, err := compileAll(df.schema, exprs)
	if err != nil {
		return nil, err
	}
	for _, c := range cs {
		if c.agg {
			return nil, fmt.Errorf("aggregate %s is not allowed in a projection", c.name)
		}
	}
	schema, sel, err := outputSchema(cs)
	if err != nil {
		return nil, err
	}
	var order []SortKey
	for _, k := range df.order {
		passthrough := "t." + quoteIdent(k.Column)
		found := false
		for _, c := range cs {
			if c.sql == passthrough {
				nk := k
				nk.Column = c.name
				order = append(order, nk)
				found = true
				break
			}
		}
		if !found {
			order = nil
			break
		}
	}
	return df.derive("SELECT "+strings.Join(sel, ", ")+df.from(), schema, order), nil
}

// Aggregate groups the frame by groupBy and evaluates aggs per group. With
// no grouping the result has exactly one row. Supplying neither grouping nor
// aggregate expressions fails with ErrNoAggregateExpr.
func (df *DataFrame) Aggregate(groupBy []Expr, aggs []Expr) (*DataFrame, error) {
	if len(groupBy) == 0 && len(aggs) == 0 {
		return nil, ErrNoAggregateExpr
	}
	gs, err := compileAll(df.schema, groupBy)
	if err != nil {
		return nil, err
	}
	as, err := compileAll(df.schema, aggs)
	if err != nil {
		return nil, err
	}
	groupSQL := make([]string, len(gs))
	for i, g := range gs {
		if g.agg {
			return nil, fmt.Errorf("aggregate %s cannot be used for grouping", g.name)
		}
		groupSQL[i] = g.sql
	}
	for _, a := range as {
		if !a.agg {
			return nil, fmt.Errorf("%s is not an aggregate expression", a.name)
		}
	}
	schema, sel, err := outputSchema(append(gs, as...))
	if err != nil {
		return nil, err
	}
	q := "SELECT " + strings.Join(sel, ", ") + df.from()
	if len(groupSQL) > 0 {
		q += " GROUP BY " + strings.Join(groupSQL, ", ")
	}
	return df.derive(q, schema, nil), nil
}

// Union appends the rows of other. Columns are matched by name, not
// position; differing column types are widened to a common type.
func (df *DataFrame) Union(other *DataFrame) (*DataFrame, error) {
	if other == nil {
		return nil, fmt.Errorf("union with nil frame")
	}
	if other.sess != df.sess {
		return nil, fmt.Errorf("union across sessions is not supported")
	}
	if len(df.schema) != len(other.schema) {
		return nil, fmt.Errorf("%w: %d columns vs %d", ErrSchemaMismatch, len(df.schema), len(other.schema))
	}
	schema := make(Schema, len(df.schema))
	left := make([]string, len(df.schema))
	right := make([]string, len(df.schema))
	for i, lf := range df.schema {
		rf, ok := other.schema.Field(lf.Name)
		if !ok {
			return nil, fmt.Errorf("%w: column %q missing on the right side", ErrSchemaMismatch, lf.Name)
		}
		t, err := commonType(lf.Type, rf.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %v", ErrSchemaMismatch, lf.Name, err)
		}
		schema[i] = Field{Name: lf.Name, Type: t, Nullable: lf.Nullable || rf.Nullable}
		ident := "t." + quoteIdent(lf.Name)
		if left[i], err = castSQL(ident, lf.Type, t); err != nil {
			return nil, err
		}
		if right[i], err = castSQL(ident, rf.Type, t); err != nil {
			return nil, err
		}
		left[i] += " AS " + quoteIdent(lf.Name)
		right[i] += " AS " + quoteIdent(lf.Name)
	}
	if len(schema) == 0 {
		return df.derive(selectList(nil)+df.from()+" UNION ALL "+selectList(nil)+other.from(), schema, nil), nil
	}
	q := "SELECT " + strings.Join(left, ", ") + df.from() +
		" UNION ALL SELECT " + strings.Join(right, ", ") + other.from()
	return df.derive(q, schema, nil), nil
}

func commonType(a, b DataType) (DataType, error) {
	switch {
	case a.Equal(b):
		return a, nil
	case a.Kind == KindNull:
		return b, nil
	case b.Kind == KindNull:
		return a, nil
	case a.IsInteger() && b.IsInteger():
		return Int64, nil
	case a.IsNumeric() && b.IsNumeric():
		return Float64, nil
	case a.Kind == KindTimestamp && b.Kind == KindTimestamp:
		if a.Unit > b.Unit {
			return a, nil
		}
		return b, nil
	case a.Kind == KindUtf8 || b.Kind == KindUtf8:
		return Utf8, nil
	}
	return DataType{}, fmt.Errorf("incompatible types %s and %s", a, b)
}

// Sort orders the frame by keys.
func (df *DataFrame) Sort(keys ...SortKey) (*DataFrame, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("sort needs at least one key")
	}
	for _, k := range keys {
		if df.schema.Index(k.Column) < 0 {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, k.Column)
		}
	}
	return df.derive(df.query, df.schema, append([]SortKey(nil), keys...)), nil
}

// Limit keeps the first n rows, honoring any ordering.
func (df *DataFrame) Limit(n int) (*DataFrame, error) {
	if n < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", n)
	}
	q := "SELECT *" + df.from() + df.orderClause() + " LIMIT " + strconv.Itoa(n)
	return df.derive(q, df.schema, df.order), nil
}

func (df *DataFrame) orderClause() string {
	if len(df.order) == 0 {
		return ""
	}
	parts := make([]string, len(df.order))
	for i, k := range df.order {
		parts[i] = k.sql()
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (df *DataFrame) finalQuery() string {
	return selectList(df.schema) + df.from() + df.orderClause()
}

// Collect runs the query and materializes every row.
func (df *DataFrame) Collect(ctx context.Context) (*Table, error) {
	q := df.finalQuery()
	df.sess.log.Debug("engine query", "sql", q)
	rows, err := df.sess.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{Query: q, Err: err}
	}
	defer rows.Close()

	width := len(df.schema)
	if width == 0 {
		width = 1
	}
	vals := make([]any, width)
	ptrs := make([]any, width)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	out := &Table{Schema: df.Schema()}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{Query: q, Err: err}
		}
		row := make([]any, len(df.schema))
		for i, f := range df.schema {
			v, err := fromStorage(vals[i], f.Type)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", f.Name, err)
			}
			row[i] = v
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: q, Err: err}
	}
	return out, nil
}

// Count returns the number of rows without materializing them.
func (df *DataFrame) Count(ctx context.Context) (int, error) {
	q := "SELECT count(*)" + df.from()
	df.sess.log.Debug("engine query", "sql", q)
	var n int
	if err := df.sess.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, &QueryError{Query: q, Err: err}
	}
	return n, nil
}
