package engine

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Expr is a column expression evaluated against a DataFrame's schema.
// The set of expressions is closed; build them with the constructors below.
type Expr interface {
	compile(s Schema) (compiled, error)
}

type compiled struct {
	sql      string
	typ      DataType
	name     string
	nullable bool
	agg      bool
}

type colExpr struct{ name string }

// Col references a column by name.
func Col(name string) Expr { return colExpr{name: name} }

func (e colExpr) compile(s Schema) (compiled, error) {
	f, ok := s.Field(e.name)
	if !ok {
		return compiled{}, fmt.Errorf("%w: %q (available: %s)", ErrColumnNotFound, e.name, strings.Join(s.Names(), ", "))
	}
	return compiled{sql: "t." + quoteIdent(f.Name), typ: f.Type, name: f.Name, nullable: f.Nullable}, nil
}

type litExpr struct {
	v   any
	typ DataType
}

// Lit is a literal whose type is inferred from the Go value.
func Lit(v any) Expr {
	return litExpr{v: v, typ: inferType(v)}
}

// TypedLit is a literal of an explicit type; v may be nil.
func TypedLit(v any, t DataType) Expr { return litExpr{v: v, typ: t} }

func (e litExpr) compile(Schema) (compiled, error) {
	sv, err := toStorage(e.v, e.typ)
	if err != nil {
		return compiled{}, err
	}
	lit := sqlLiteral(sv)
	if sv == nil && e.typ.Kind != KindNull {
		lit = "CAST(NULL AS " + e.typ.physical() + ")"
	}
	return compiled{sql: lit, typ: e.typ, name: fmt.Sprintf("%s(%v)", e.typ, e.v), nullable: e.v == nil}, nil
}

func inferType(v any) DataType {
	switch v.(type) {
	case nil:
		return Null
	case bool:
		return Boolean
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return Int64
	case uint, uint64:
		return UInt64
	case float32, float64:
		return Float64
	case string:
		return Utf8
	case []byte:
		return Binary
	case time.Time:
		return Timestamp(Microsecond)
	case []any:
		return ListOf(Null)
	case map[string]any:
		return Struct
	}
	return Utf8
}

type aliasExpr struct {
	e    Expr
	name string
}

// Alias renames the output column of e.
func Alias(e Expr, name string) Expr { return aliasExpr{e: e, name: name} }

func (e aliasExpr) compile(s Schema) (compiled, error) {
	c, err := e.e.compile(s)
	if err != nil {
		return compiled{}, err
	}
	c.name = e.name
	return c, nil
}

type castExpr struct {
	e  Expr
	to DataType
}

// Cast converts e to type to. Temporal values cast to numbers yield their
// integer epoch in the type's own unit; numbers cast to temporal types are
// truncated back to an integer epoch.
func Cast(e Expr, to DataType) Expr { return castExpr{e: e, to: to} }

func (e castExpr) compile(s Schema) (compiled, error) {
	c, err := e.e.compile(s)
	if err != nil {
		return compiled{}, err
	}
	sql, err := castSQL(c.sql, c.typ, e.to)
	if err != nil {
		return compiled{}, err
	}
	return compiled{
		sql:      sql,
		typ:      e.to,
		name:     fmt.Sprintf("CAST(%s AS %s)", c.name, e.to),
		nullable: c.nullable,
		agg:      c.agg,
	}, nil
}

type isNullExpr struct{ e Expr }

// IsNull is true where e is null.
func IsNull(e Expr) Expr { return isNullExpr{e: e} }

func (e isNullExpr) compile(s Schema) (compiled, error) {
	c, err := e.e.compile(s)
	if err != nil {
		return compiled{}, err
	}
	return compiled{sql: "(" + c.sql + " IS NULL)", typ: Boolean, name: c.name + " IS NULL", agg: c.agg}, nil
}

// CaseBuilder assembles a CASE WHEN expression.
type CaseBuilder struct {
	whens []whenClause
}

type whenClause struct{ cond, then Expr }

// Case starts a searched CASE expression.
func Case() *CaseBuilder { return &CaseBuilder{} }

// When adds a branch; builders are copied so they can be shared.
func (b *CaseBuilder) When(cond, then Expr) *CaseBuilder {
	next := &CaseBuilder{whens: append(append([]whenClause(nil), b.whens...), whenClause{cond, then})}
	return next
}

// Otherwise closes the expression with a default branch.
func (b *CaseBuilder) Otherwise(e Expr) Expr {
	return caseExpr{whens: b.whens, otherwise: e}
}

// End closes the expression with a NULL default.
func (b *CaseBuilder) End() Expr { return caseExpr{whens: b.whens} }

type caseExpr struct {
	whens     []whenClause
	otherwise Expr
}

func (e caseExpr) compile(s Schema) (compiled, error) {
	if len(e.whens) == 0 {
		return compiled{}, fmt.Errorf("CASE needs at least one WHEN")
	}
	var sb strings.Builder
	sb.WriteString("CASE")
	out := compiled{typ: Null, nullable: e.otherwise == nil}
	names := make([]string, 0, len(e.whens))
	for _, w := range e.whens {
		cond, err := w.cond.compile(s)
		if err != nil {
			return compiled{}, err
		}
		then, err := w.then.compile(s)
		if err != nil {
			return compiled{}, err
		}
		if out.typ.Kind == KindNull {
			out.typ = then.typ
		}
		out.agg = out.agg || cond.agg || then.agg
		out.nullable = out.nullable || then.nullable
		fmt.Fprintf(&sb, " WHEN %s THEN %s", cond.sql, then.sql)
		names = append(names, fmt.Sprintf("WHEN %s THEN %s", cond.name, then.name))
	}
	if e.otherwise != nil {
		o, err := e.otherwise.compile(s)
		if err != nil {
			return compiled{}, err
		}
		if out.typ.Kind == KindNull {
			out.typ = o.typ
		}
		out.agg = out.agg || o.agg
		out.nullable = out.nullable || o.nullable
		fmt.Fprintf(&sb, " ELSE %s", o.sql)
		names = append(names, "ELSE "+o.name)
	}
	sb.WriteString(" END")
	out.sql = sb.String()
	out.name = "CASE " + strings.Join(names, " ") + " END"
	return out, nil
}

type lengthExpr struct{ e Expr }

// Length is the character length of a text value, or the byte length of a binary one.
func Length(e Expr) Expr { return lengthExpr{e: e} }

func (e lengthExpr) compile(s Schema) (compiled, error) {
	c, err := e.e.compile(s)
	if err != nil {
		return compiled{}, err
	}
	switch c.typ.Kind {
	case KindUtf8, KindBinary, KindNull:
	default:
		return compiled{}, fmt.Errorf("length expects Utf8 or Binary, got %s", c.typ)
	}
	return compiled{sql: "length(" + c.sql + ")", typ: Int64, name: "length(" + c.name + ")", nullable: c.nullable, agg: c.agg}, nil
}

type arrayLengthExpr struct{ e Expr }

// ArrayLength is the element count of a list value; a null list yields null.
func ArrayLength(e Expr) Expr { return arrayLengthExpr{e: e} }

func (e arrayLengthExpr) compile(s Schema) (compiled, error) {
	c, err := e.e.compile(s)
	if err != nil {
		return compiled{}, err
	}
	if c.typ.Kind != KindList {
		return compiled{}, fmt.Errorf("array_length expects List, got %s", c.typ)
	}
	return compiled{sql: "json_array_length(" + c.sql + ")", typ: Int64, name: "array_length(" + c.name + ")", nullable: c.nullable, agg: c.agg}, nil
}

type aggFunc int

const (
	aggCount aggFunc = iota
	aggSum
	aggAvg
	aggStdDev
	aggMin
	aggMax
	aggMedian
	aggPercentile
)

var aggNames = [...]string{"count", "sum", "avg", "stddev", "min", "max", "median", "approx_percentile_cont"}

type aggExpr struct {
	fn   aggFunc
	arg  Expr
	frac float64
}

// Count counts non-null values of e.
func Count(e Expr) Expr { return aggExpr{fn: aggCount, arg: e} }

// Sum adds the values of e.
func Sum(e Expr) Expr { return aggExpr{fn: aggSum, arg: e} }

// Avg is the arithmetic mean of e.
func Avg(e Expr) Expr { return aggExpr{fn: aggAvg, arg: e} }

// StdDev is the sample standard deviation of e.
func StdDev(e Expr) Expr { return aggExpr{fn: aggStdDev, arg: e} }

// Min is the smallest value of e.
func Min(e Expr) Expr { return aggExpr{fn: aggMin, arg: e} }

// Max is the largest value of e.
func Max(e Expr) Expr { return aggExpr{fn: aggMax, arg: e} }

// Median is the 0.5 quantile of e.
func Median(e Expr) Expr { return aggExpr{fn: aggMedian, arg: e} }

// ApproxPercentileCont is the continuous quantile of e at fraction (0..1).
func ApproxPercentileCont(e Expr, fraction float64) Expr {
	return aggExpr{fn: aggPercentile, arg: e, frac: fraction}
}

func (e aggExpr) compile(s Schema) (compiled, error) {
	c, err := e.arg.compile(s)
	if err != nil {
		return compiled{}, err
	}
	if c.agg {
		return compiled{}, fmt.Errorf("aggregate function calls cannot be nested: %s(%s)", aggNames[e.fn], c.name)
	}
	name := aggNames[e.fn] + "(" + c.name + ")"
	out := compiled{typ: Float64, name: name, nullable: true, agg: true}
	needNumeric := func() error {
		if c.typ.IsNumeric() || c.typ.Kind == KindBoolean || c.typ.Kind == KindNull {
			return nil
		}
		return fmt.Errorf("%s does not support %s input", aggNames[e.fn], c.typ)
	}
	switch e.fn {
	case aggCount:
		out.sql = "count(" + c.sql + ")"
		out.typ = Int64
		out.nullable = false
	case aggSum:
		if err := needNumeric(); err != nil {
			return compiled{}, err
		}
		out.sql = "sum(" + c.sql + ")"
		if c.typ.IsInteger() || c.typ.Kind == KindBoolean {
			out.typ = Int64
		}
	case aggAvg:
		if err := needNumeric(); err != nil {
			return compiled{}, err
		}
		out.sql = "avg(" + c.sql + ")"
	case aggStdDev:
		if err := needNumeric(); err != nil {
			return compiled{}, err
		}
		out.sql = fnStdDev + "(" + c.sql + ")"
	case aggMedian:
		if err := needNumeric(); err != nil {
			return compiled{}, err
		}
		out.sql = fnMedian + "(" + c.sql + ")"
	case aggPercentile:
		if err := needNumeric(); err != nil {
			return compiled{}, err
		}
		if math.IsNaN(e.frac) || e.frac < 0 || e.frac > 1 {
			return compiled{}, fmt.Errorf("percentile fraction must be within [0, 1], got %v", e.frac)
		}
		frac := strconv.FormatFloat(e.frac, 'g', -1, 64)
		out.sql = fnPercentile + "(" + c.sql + ", " + floatLiteral(e.frac) + ")"
		out.name = aggNames[e.fn] + "(" + c.name + ", " + frac + ")"
	case aggMin, aggMax:
		if c.typ.Kind == KindList || c.typ.Kind == KindStruct {
			return compiled{}, fmt.Errorf("%s does not support %s input", aggNames[e.fn], c.typ)
		}
		out.sql = aggNames[e.fn] + "(" + c.sql + ")"
		out.typ = c.typ
	}
	return out, nil
}

// SortKey orders a DataFrame by one column.
type SortKey struct {
	Column     string
	Descending bool
	NullsFirst bool
}

// Asc sorts by column ascending with nulls last.
func Asc(column string) SortKey { return SortKey{Column: column} }

// Desc sorts by column descending with nulls last.
func Desc(column string) SortKey { return SortKey{Column: column, Descending: true} }

func (k SortKey) sql() string {
	dir := " ASC"
	if k.Descending {
		dir = " DESC"
	}
	nulls := " NULLS LAST"
	if k.NullsFirst {
		nulls = " NULLS FIRST"
	}
	return "t." + quoteIdent(k.Column) + dir + nulls
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// sqlLiteral renders a storage value as SQL text.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return floatLiteral(x)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	}
	return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
}

func floatLiteral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NULL"
	case math.IsInf(f, 1):
		return "9e999"
	case math.IsInf(f, -1):
		return "-9e999"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// castSQL renders the SQL converting x from one logical type to another.
func castSQL(x string, from, to DataType) (string, error) {
	if from.Equal(to) {
		return x, nil
	}
	if from.Kind == KindNull {
		return "CAST(" + x + " AS " + to.physical() + ")", nil
	}
	unsupported := func() (string, error) {
		return "", fmt.Errorf("%w: %s to %s", ErrUnsupportedCast, from, to)
	}
	switch {
	case to.IsFloat():
		switch {
		case from.IsNumeric(), from.Kind == KindBoolean, from.IsTemporal(), from.Kind == KindUtf8:
			return "CAST(" + x + " AS REAL)", nil
		}
		return unsupported()
	case to.IsInteger():
		switch {
		case from.IsNumeric(), from.Kind == KindBoolean, from.IsTemporal(), from.Kind == KindUtf8:
			return "CAST(" + x + " AS INTEGER)", nil
		}
		return unsupported()
	case to.Kind == KindBoolean:
		switch {
		case from.IsNumeric():
			return "(CASE WHEN " + x + " IS NULL THEN NULL WHEN " + x + " <> 0 THEN 1 ELSE 0 END)", nil
		case from.Kind == KindUtf8:
			return "(CASE lower(" + x + ") WHEN 'true' THEN 1 WHEN 'false' THEN 0 WHEN '1' THEN 1 WHEN '0' THEN 0 ELSE NULL END)", nil
		}
		return unsupported()
	case to.Kind == KindUtf8:
		switch {
		case from.Kind == KindBoolean:
			return "(CASE WHEN " + x + " IS NULL THEN NULL WHEN " + x + " <> 0 THEN 'true' ELSE 'false' END)", nil
		case from.Kind == KindDate32:
			return "date((" + x + ") * 86400, 'unixepoch')", nil
		case from.Kind == KindTimestamp:
			return timestampText(x, from.Unit), nil
		case from.Kind == KindList, from.Kind == KindStruct:
			return x, nil
		}
		return "CAST(" + x + " AS TEXT)", nil
	case to.Kind == KindBinary:
		if from.Kind == KindUtf8 {
			return "CAST(" + x + " AS BLOB)", nil
		}
		return unsupported()
	case to.Kind == KindDate32:
		switch {
		case from.Kind == KindTimestamp:
			return floorDivSQL(x, from.Unit.perSecond()*secondsPerDay), nil
		case from.IsNumeric():
			return "CAST(" + x + " AS INTEGER)", nil
		case from.Kind == KindUtf8:
			return "CAST(floor(julianday(" + x + ") - 2440587.5) AS INTEGER)", nil
		}
		return unsupported()
	case to.Kind == KindTimestamp:
		switch {
		case from.Kind == KindTimestamp:
			fp, tp := from.Unit.perSecond(), to.Unit.perSecond()
			if tp >= fp {
				return "((" + x + ") * " + strconv.FormatInt(tp/fp, 10) + ")", nil
			}
			return floorDivSQL(x, fp/tp), nil
		case from.Kind == KindDate32:
			return "((" + x + ") * " + strconv.FormatInt(to.Unit.perSecond()*secondsPerDay, 10) + ")", nil
		case from.IsNumeric():
			return "CAST(" + x + " AS INTEGER)", nil
		case from.Kind == KindUtf8:
			return "CAST(round((julianday(" + x + ") - 2440587.5) * 86400) AS INTEGER) * " + strconv.FormatInt(to.Unit.perSecond(), 10), nil
		}
		return unsupported()
	case to.Kind == KindList, to.Kind == KindStruct:
		if from.Kind == KindUtf8 {
			return x, nil
		}
		return unsupported()
	}
	return unsupported()
}

func floorDivSQL(x string, n int64) string {
	ns := strconv.FormatInt(n, 10)
	return "(((" + x + ") - ((((" + x + ") % " + ns + ") + " + ns + ") % " + ns + ")) / " + ns + ")"
}

func timestampText(x string, unit TimeUnit) string {
	per := unit.perSecond()
	if per == 1 {
		return "strftime('%Y-%m-%dT%H:%M:%S', " + x + ", 'unixepoch')"
	}
	ns := strconv.FormatInt(per, 10)
	digits := strconv.Itoa(len(ns) - 1)
	frac := "((((" + x + ") % " + ns + ") + " + ns + ") % " + ns + ")"
	return "(strftime('%Y-%m-%dT%H:%M:%S', " + floorDivSQL(x, per) + ", 'unixepoch') || printf('.%0" + digits + "d', " + frac + "))"
}
