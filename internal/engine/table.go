package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field describes one column.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
}

// Schema is an ordered list of fields.
type Schema []Field

// Names returns the field names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field returns the field called name.
func (s Schema) Field(name string) (Field, bool) {
	if i := s.Index(name); i >= 0 {
		return s[i], true
	}
	return Field{}, false
}

func (s Schema) validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateColumn, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Table is a materialized result: rows of Go values laid out per Schema.
//
// Value representation by kind: Boolean bool, integers int64, floats float64,
// Utf8 string, Binary []byte, Date32 and Timestamp time.Time (UTC),
// List []any, Struct map[string]any, and nil for nulls.
type Table struct {
	Schema Schema
	Rows   [][]any
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Value returns the cell at row for the named column.
func (t *Table) Value(row int, column string) (any, error) {
	i := t.Schema.Index(column)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	if row < 0 || row >= len(t.Rows) {
		return nil, fmt.Errorf("row %d out of range (%d rows)", row, len(t.Rows))
	}
	return t.Rows[row][i], nil
}

// Column returns all values of the named column.
func (t *Table) Column(column string) ([]any, error) {
	i := t.Schema.Index(column)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out, nil
}

// toStorage converts a Go value into what the SQLite column for dt stores.
func toStorage(v any, dt DataType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case dt.Kind == KindBoolean:
		b, ok := v.(bool)
		if !ok {
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			b = n != 0
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case dt.IsInteger():
		return toInt64(v)
	case dt.IsFloat():
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) {
			return nil, nil
		}
		return f, nil
	case dt.Kind == KindUtf8:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		return fmt.Sprint(v), nil
	case dt.Kind == KindBinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
		return nil, fmt.Errorf("cannot store %T as %s", v, dt)
	case dt.IsTemporal():
		if t, ok := v.(time.Time); ok {
			return toEpoch(t, dt), nil
		}
		return toInt64(v)
	case dt.Kind == KindList, dt.Kind == KindStruct:
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", dt, err)
		}
		return string(b), nil
	}
	return nil, nil
}

// fromStorage converts a value scanned from SQLite into the Table representation.
func fromStorage(v any, dt DataType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case dt.Kind == KindBoolean:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case dt.IsInteger():
		return toInt64(v)
	case dt.IsFloat():
		return toFloat64(v)
	case dt.Kind == KindUtf8:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		}
		return fmt.Sprint(v), nil
	case dt.Kind == KindBinary:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
		return nil, fmt.Errorf("cannot read %T as %s", v, dt)
	case dt.IsTemporal():
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return fromEpoch(n, dt), nil
	case dt.Kind == KindList:
		var raw []any
		if err := decodeJSON(v, &raw); err != nil {
			return nil, err
		}
		if dt.Elem != nil {
			for i, e := range raw {
				raw[i] = fromJSONValue(e, *dt.Elem)
			}
		}
		return raw, nil
	case dt.Kind == KindStruct:
		var raw map[string]any
		if err := decodeJSON(v, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}
	return v, nil
}

func decodeJSON(v any, dst any) error {
	var b []byte
	switch x := v.(type) {
	case string:
		b = []byte(x)
	case []byte:
		b = x
	default:
		return fmt.Errorf("cannot decode %T as json", v)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func fromJSONValue(v any, dt DataType) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if dt.IsInteger() || dt.IsTemporal() || dt.Kind == KindBoolean {
		if i, err := n.Int64(); err == nil {
			out, err := fromStorage(i, dt)
			if err == nil {
				return out
			}
		}
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(n), nil
}
