package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

var (
	dateLayouts = []string{
		"2006-01-02", "2006/01/02", "01/02/2006", "1/2/2006",
	}
	dateTimeLayouts = []string{
		time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04",
		"2006-01-02T15:04", "1/2/2006 15:04", "1/2/2006 15:04:05",
	}
)

func parseDate(s string) (time.Time, bool) {
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDateTime(s string) (time.Time, bool) {
	for _, l := range dateTimeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// textParsers are tried narrowest first; a column takes the first type every
// non-empty value parses as.
var textParsers = []struct {
	typ   engine.DataType
	parse func(string) (any, bool)
}{
	{engine.Int64, func(s string) (any, bool) {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}},
	{engine.Float64, func(s string) (any, bool) {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}},
	{engine.Boolean, func(s string) (any, bool) {
		b, err := strconv.ParseBool(s)
		return b, err == nil
	}},
	{engine.Date32, func(s string) (any, bool) { return parseDate(s) }},
	{engine.Timestamp(engine.Microsecond), func(s string) (any, bool) { return parseDateTime(s) }},
}

// inferText types a column of raw text cells. Empty cells are nulls.
func inferText(raw []string) (engine.DataType, []any) {
	out := make([]any, len(raw))
	nonEmpty := 0
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			nonEmpty++
		}
	}
	if nonEmpty > 0 {
	next:
		for _, p := range textParsers {
			for i, s := range raw {
				s = strings.TrimSpace(s)
				if s == "" {
					out[i] = nil
					continue
				}
				v, ok := p.parse(s)
				if !ok {
					continue next
				}
				out[i] = v
			}
			return p.typ, out
		}
	}
	for i, s := range raw {
		if strings.TrimSpace(s) == "" {
			out[i] = nil
			continue
		}
		out[i] = s
	}
	return engine.Utf8, out
}

type jsonShape uint8

const (
	shapeNull jsonShape = iota
	shapeBool
	shapeInt
	shapeFloat
	shapeString
	shapeList
	shapeObject
	shapeMixed
)

func shapeOf(v any) jsonShape {
	switch x := v.(type) {
	case nil:
		return shapeNull
	case bool:
		return shapeBool
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return shapeInt
		}
		return shapeFloat
	case float64:
		return shapeFloat
	case string:
		return shapeString
	case []any:
		return shapeList
	case map[string]any:
		return shapeObject
	}
	return shapeMixed
}

func widen(a, b jsonShape) jsonShape {
	switch {
	case a == shapeNull:
		return b
	case b == shapeNull, a == b:
		return a
	case (a == shapeInt && b == shapeFloat) || (a == shapeFloat && b == shapeInt):
		return shapeFloat
	}
	return shapeMixed
}

// inferJSON types a column of decoded JSON values (decoded with UseNumber).
func inferJSON(vals []any) (engine.DataType, []any) {
	shape := shapeNull
	for _, v := range vals {
		shape = widen(shape, shapeOf(v))
	}
	out := make([]any, len(vals))
	switch shape {
	case shapeBool, shapeObject:
		copy(out, vals)
		if shape == shapeBool {
			return engine.Boolean, out
		}
		return engine.Struct, out
	case shapeInt:
		for i, v := range vals {
			if v != nil {
				out[i], _ = v.(json.Number).Int64()
			}
		}
		return engine.Int64, out
	case shapeFloat:
		for i, v := range vals {
			if v != nil {
				out[i], _ = jsonFloat(v)
			}
		}
		return engine.Float64, out
	case shapeList:
		var elems []any
		for _, v := range vals {
			if l, ok := v.([]any); ok {
				elems = append(elems, l...)
			}
		}
		elemType, converted := inferJSON(elems)
		k := 0
		for i, v := range vals {
			l, ok := v.([]any)
			if !ok {
				continue
			}
			out[i] = converted[k : k+len(l) : k+len(l)]
			k += len(l)
		}
		return engine.ListOf(elemType), out
	case shapeNull, shapeString:
		copy(out, vals)
		return engine.Utf8, out
	}
	for i, v := range vals {
		out[i] = jsonText(v)
	}
	return engine.Utf8, out
}

func jsonFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	}
	return 0, false
}

func jsonText(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// columnNames fills blank header cells and makes duplicates unique.
func columnNames(header []string, n int) []string {
	names := make([]string, n)
	seen := make(map[string]int, n)
	for i := 0; i < n; i++ {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		base := name
		for seen[name] > 0 {
			seen[base]++
			name = fmt.Sprintf("%s_%d", base, seen[base])
		}
		seen[name]++
		names[i] = name
	}
	return names
}

// tableFromColumns transposes typed columns into an engine table.
func tableFromColumns(names []string, types []engine.DataType, cols [][]any) *engine.Table {
	t := &engine.Table{Schema: make(engine.Schema, len(names))}
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	for i, name := range names {
		nullable := false
		for _, v := range cols[i] {
			if v == nil {
				nullable = true
				break
			}
		}
		t.Schema[i] = engine.Field{Name: name, Type: types[i], Nullable: nullable}
	}
	t.Rows = make([][]any, rows)
	for r := range t.Rows {
		row := make([]any, len(names))
		for c := range names {
			row[c] = cols[c][r]
		}
		t.Rows[r] = row
	}
	return t
}

// tableFromText infers every column of a text grid. Short records are padded
// with empty cells.
func tableFromText(header []string, records [][]string) *engine.Table {
	width := len(header)
	for _, rec := range records {
		if len(rec) > width {
			width = len(rec)
		}
	}
	names := columnNames(header, width)
	types := make([]engine.DataType, width)
	cols := make([][]any, width)
	raw := make([]string, len(records))
	for c := 0; c < width; c++ {
		for r, rec := range records {
			if c < len(rec) {
				raw[r] = rec[c]
			} else {
				raw[r] = ""
			}
		}
		types[c], cols[c] = inferText(raw)
	}
	return tableFromColumns(names, types, cols)
}
