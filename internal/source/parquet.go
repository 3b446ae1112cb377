package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type parquetLoader struct{}

func (parquetLoader) CanLoad(c Conn) bool { return c.Kind == KindFile && c.Format == "parquet" }

// parquetLeaf maps one leaf column of the file onto an output column.
type parquetLeaf struct {
	column   int
	key      string // struct member path; empty for scalar and list columns
	repeated bool
	maxDef   int
	optElem  bool
	optRoot  bool
	typ      engine.DataType
	conv     func(parquet.Value) any
}

// Load reads top-level fields as columns. A field with a single repeated leaf
// becomes a list; any other group becomes a struct keyed by dotted member path.
func (parquetLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	f, err := os.Open(c.Location)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet: %w", err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	names, types, leaves, err := parquetLayout(pf.Schema())
	if err != nil {
		return nil, err
	}

	limit := opts.limit()
	cols := make([][]any, len(names))
	buf := make([]parquet.Row, 256)
	total := 0
	for _, rg := range pf.RowGroups() {
		if total >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := rg.Rows()
		for total < limit {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:min(n, limit-total)] {
				vals := assembleRow(row, leaves, len(names))
				for i := range cols {
					cols[i] = append(cols[i], vals[i])
				}
				total++
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close parquet rows: %w", err)
		}
	}
	for i := range cols {
		if cols[i] == nil {
			cols[i] = []any{}
		}
	}
	return tableFromColumns(names, types, cols), nil
}

func parquetLayout(schema *parquet.Schema) ([]string, []engine.DataType, map[int]parquetLeaf, error) {
	var (
		names  []string
		groups = map[string][]parquet.LeafColumn{}
	)
	for _, path := range schema.Columns() {
		leaf, ok := schema.Lookup(path...)
		if !ok {
			return nil, nil, nil, fmt.Errorf("parquet column %s not found", strings.Join(path, "."))
		}
		if _, seen := groups[path[0]]; !seen {
			names = append(names, path[0])
		}
		groups[path[0]] = append(groups[path[0]], leaf)
	}
	roots := map[string]bool{}
	for _, fld := range schema.Fields() {
		roots[fld.Name()] = fld.Optional()
	}

	types := make([]engine.DataType, len(names))
	leaves := map[int]parquetLeaf{}
	for i, name := range names {
		g := groups[name]
		single := len(g) == 1 && (len(g[0].Path) == 1 || g[0].MaxRepetitionLevel > 0)
		for _, lc := range g {
			typ, conv := parquetLeafType(lc.Node)
			pl := parquetLeaf{
				column:   i,
				repeated: lc.MaxRepetitionLevel > 0,
				maxDef:   lc.MaxDefinitionLevel,
				optElem:  lc.Node.Optional(),
				optRoot:  roots[name],
				typ:      typ,
				conv:     conv,
			}
			if !single {
				pl.key = strings.Join(lc.Path[1:], ".")
			}
			leaves[lc.ColumnIndex] = pl
		}
		switch {
		case !single:
			types[i] = engine.Struct
		case g[0].MaxRepetitionLevel > 0:
			elem := leaves[g[0].ColumnIndex].typ
			types[i] = engine.ListOf(elem)
		default:
			types[i] = leaves[g[0].ColumnIndex].typ
		}
	}
	return names, types, leaves, nil
}

func assembleRow(row parquet.Row, leaves map[int]parquetLeaf, width int) []any {
	vals := make([]any, width)
	for _, v := range row {
		pl, ok := leaves[v.Column()]
		if !ok {
			continue
		}
		rootNull := pl.optRoot && v.DefinitionLevel() == 0
		switch {
		case pl.key != "":
			if rootNull {
				continue
			}
			m, _ := vals[pl.column].(map[string]any)
			if m == nil {
				m = map[string]any{}
				vals[pl.column] = m
			}
			if pl.repeated {
				l, _ := m[pl.key].([]any)
				if l == nil {
					l = []any{}
				}
				if !v.IsNull() {
					l = append(l, pl.conv(v))
				}
				m[pl.key] = l
				continue
			}
			m[pl.key] = leafValue(pl, v)
		case pl.repeated:
			if rootNull {
				continue
			}
			l, _ := vals[pl.column].([]any)
			if l == nil {
				l = []any{}
			}
			switch {
			case !v.IsNull():
				l = append(l, pl.conv(v))
			case pl.optElem && v.DefinitionLevel() == pl.maxDef-1:
				l = append(l, nil)
			}
			vals[pl.column] = l
		default:
			vals[pl.column] = leafValue(pl, v)
		}
	}
	return vals
}

func leafValue(pl parquetLeaf, v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	return pl.conv(v)
}

// parquetLeafType maps a leaf's physical and logical type onto an engine type
// and a value converter.
func parquetLeafType(n parquet.Node) (engine.DataType, func(parquet.Value) any) {
	t := n.Type()
	kind := t.Kind()
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil, lt.Enum != nil, lt.Json != nil:
			return engine.Utf8, func(v parquet.Value) any { return string(v.ByteArray()) }
		case lt.UUID != nil:
			return engine.Utf8, func(v parquet.Value) any {
				u, err := uuid.FromBytes(v.ByteArray())
				if err != nil {
					return fmt.Sprintf("%x", v.ByteArray())
				}
				return u.String()
			}
		case lt.Date != nil:
			return engine.Date32, func(v parquet.Value) any {
				return time.Unix(int64(v.Int32())*86400, 0).UTC()
			}
		case lt.Timestamp != nil:
			unit, epoch := engine.Microsecond, time.UnixMicro
			switch {
			case lt.Timestamp.Unit.Millis != nil:
				unit, epoch = engine.Millisecond, time.UnixMilli
			case lt.Timestamp.Unit.Nanos != nil:
				unit, epoch = engine.Nanosecond, func(n int64) time.Time { return time.Unix(0, n) }
			}
			return engine.Timestamp(unit), func(v parquet.Value) any { return epoch(v.Int64()).UTC() }
		case lt.Integer != nil:
			return integerType(lt.Integer, kind)
		case lt.Decimal != nil:
			return engine.Float64, decimalConv(lt.Decimal, kind)
		}
	}
	switch kind {
	case parquet.Boolean:
		return engine.Boolean, func(v parquet.Value) any { return v.Boolean() }
	case parquet.Int32:
		return engine.Int32, func(v parquet.Value) any { return int64(v.Int32()) }
	case parquet.Int64:
		return engine.Int64, func(v parquet.Value) any { return v.Int64() }
	case parquet.Int96:
		// Legacy Impala timestamps: nanoseconds of day plus a Julian day number.
		return engine.Timestamp(engine.Nanosecond), func(v parquet.Value) any {
			x := v.Int96()
			nanos := int64(x[1])<<32 | int64(x[0])
			return time.Unix((int64(x[2])-2440588)*86400, nanos).UTC()
		}
	case parquet.Float:
		return engine.Float32, func(v parquet.Value) any { return float64(v.Float()) }
	case parquet.Double:
		return engine.Float64, func(v parquet.Value) any { return v.Double() }
	}
	return engine.Binary, func(v parquet.Value) any { return append([]byte(nil), v.ByteArray()...) }
}

func integerType(it *format.IntType, kind parquet.Kind) (engine.DataType, func(parquet.Value) any) {
	var dt engine.DataType
	switch {
	case it.IsSigned && it.BitWidth == 8:
		dt = engine.Int8
	case it.IsSigned && it.BitWidth == 16:
		dt = engine.Int16
	case it.IsSigned && it.BitWidth == 32:
		dt = engine.Int32
	case it.IsSigned:
		dt = engine.Int64
	case it.BitWidth == 8:
		dt = engine.UInt8
	case it.BitWidth == 16:
		dt = engine.UInt16
	case it.BitWidth == 32:
		dt = engine.UInt32
	default:
		dt = engine.UInt64
	}
	if kind == parquet.Int32 {
		if it.IsSigned {
			return dt, func(v parquet.Value) any { return int64(v.Int32()) }
		}
		return dt, func(v parquet.Value) any { return int64(uint32(v.Int32())) }
	}
	if it.IsSigned {
		return dt, func(v parquet.Value) any { return v.Int64() }
	}
	return dt, func(v parquet.Value) any { return uint64(v.Int64()) }
}

func decimalConv(d *format.DecimalType, kind parquet.Kind) func(parquet.Value) any {
	scale := math.Pow10(int(d.Scale))
	switch kind {
	case parquet.Int32:
		return func(v parquet.Value) any { return float64(v.Int32()) / scale }
	case parquet.Int64:
		return func(v parquet.Value) any { return float64(v.Int64()) / scale }
	}
	return func(v parquet.Value) any {
		b := v.ByteArray()
		n := new(big.Int).SetBytes(b)
		if len(b) > 0 && b[0]&0x80 != 0 {
			n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8)))
		}
		f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), big.NewFloat(scale)).Float64()
		return f
	}
}
