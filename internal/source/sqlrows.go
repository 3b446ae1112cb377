package source

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

// sqlColumn describes one result column of a database/sql query. A zero Type
// (KindNull) asks for inference from the scanned values.
type sqlColumn struct {
	Name     string
	Type     engine.DataType
	Nullable bool
	convert  func(any) any
}

// readSQLRows runs query and converts at most limit rows into a table.
func readSQLRows(ctx context.Context, db *sql.DB, query string, limit int, describe func(*sql.ColumnType) sqlColumn) (*engine.Table, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	specs := make([]sqlColumn, len(cts))
	for i, ct := range cts {
		specs[i] = describe(ct)
	}

	cols := make([][]any, len(specs))
	dest := make([]any, len(specs))
	ptrs := make([]any, len(specs))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	n := 0
	for n < limit && rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", n+1, err)
		}
		for i, v := range dest {
			if b, ok := v.([]byte); ok {
				v = append([]byte(nil), b...)
			}
			if v != nil && specs[i].convert != nil {
				v = specs[i].convert(v)
			}
			cols[i] = append(cols[i], v)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	names := make([]string, len(specs))
	types := make([]engine.DataType, len(specs))
	for i, s := range specs {
		if cols[i] == nil {
			cols[i] = []any{}
		}
		names[i] = s.Name
		types[i], cols[i] = settleSQLColumn(s.Type, cols[i])
	}
	t := tableFromColumns(columnNames(names, len(names)), types, cols)
	for i, s := range specs {
		t.Schema[i].Nullable = t.Schema[i].Nullable || s.Nullable
	}
	return t, nil
}

// settleSQLColumn coerces scanned values to dt. Columns without a usable
// declared type, or whose values do not fit it, fall back to inference.
func settleSQLColumn(dt engine.DataType, vals []any) (engine.DataType, []any) {
	if dt.Kind == engine.KindNull {
		return inferScanned(vals)
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		c, ok := coerceScanned(v, dt)
		if !ok {
			return inferScanned(vals)
		}
		out[i] = c
	}
	return dt, out
}

func coerceScanned(v any, dt engine.DataType) (any, bool) {
	switch {
	case dt.Kind == engine.KindUtf8:
		switch x := v.(type) {
		case string:
			return x, true
		case []byte:
			return string(x), true
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano), true
		}
		return fmt.Sprint(v), true
	case dt.Kind == engine.KindBinary:
		switch x := v.(type) {
		case []byte:
			return x, true
		case string:
			return []byte(x), true
		}
	case dt.Kind == engine.KindBoolean:
		switch x := v.(type) {
		case bool:
			return x, true
		case int64:
			return x != 0, true
		case string, []byte:
			b, err := strconv.ParseBool(strings.TrimSpace(asString(x)))
			return b, err == nil
		}
	case dt.IsInteger():
		switch x := v.(type) {
		case int64, int32, int16, int8, int:
			return x, true
		case bool:
			return x, true
		case float64:
			if x == math.Trunc(x) {
				return int64(x), true
			}
		case string, []byte:
			n, err := strconv.ParseInt(strings.TrimSpace(asString(x)), 10, 64)
			return n, err == nil
		}
	case dt.IsFloat():
		switch x := v.(type) {
		case float64, float32:
			return x, true
		case int64:
			return float64(x), true
		case string, []byte:
			f, err := strconv.ParseFloat(strings.TrimSpace(asString(x)), 64)
			return f, err == nil
		}
	case dt.Kind == engine.KindDate32:
		switch x := v.(type) {
		case time.Time:
			return x, true
		case string, []byte:
			s := strings.TrimSpace(asString(x))
			if t, ok := parseDate(s); ok {
				return t, true
			}
			if t, ok := parseDateTime(s); ok {
				return t, true
			}
		}
	case dt.Kind == engine.KindTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), true
		case string, []byte:
			s := strings.TrimSpace(asString(x))
			if t, ok := parseDateTime(s); ok {
				return t, true
			}
			if t, ok := parseDate(s); ok {
				return t, true
			}
		}
	default:
		return v, true
	}
	return nil, false
}

// inferScanned types a column from the Go types the driver produced.
func inferScanned(vals []any) (engine.DataType, []any) {
	var dt engine.DataType
	seen := false
	for _, v := range vals {
		var t engine.DataType
		switch v.(type) {
		case nil:
			continue
		case int64, int32, int16, int8, int:
			t = engine.Int64
		case float64, float32:
			t = engine.Float64
		case bool:
			t = engine.Boolean
		case []byte:
			t = engine.Binary
		case time.Time:
			t = engine.Timestamp(engine.Microsecond)
		default:
			t = engine.Utf8
		}
		switch {
		case !seen:
			dt, seen = t, true
		case dt.Equal(t):
		case dt.IsNumeric() && t.IsNumeric():
			dt = engine.Float64
		default:
			dt = engine.Utf8
		}
	}
	if !seen {
		dt = engine.Utf8
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		c, ok := coerceScanned(v, dt)
		if !ok {
			c, _ = coerceScanned(v, engine.Utf8)
		}
		out[i] = c
	}
	return dt, out
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
