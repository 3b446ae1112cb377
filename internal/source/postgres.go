package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type postgresLoader struct{}

func (postgresLoader) CanLoad(c Conn) bool { return c.Kind == KindPostgres }

// Load reads one table (optionally schema-qualified) with a single pgx connection.
func (postgresLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("a table name is required for postgres sources (-t)")
	}
	conn, err := pgx.Connect(ctx, c.Location)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	rows, err := conn.Query(ctx, postgresQuery(opts.Table, opts.MaxRows))
	if err != nil {
		return nil, fmt.Errorf("query postgres: %w", err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	types := make([]engine.DataType, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
		types[i] = postgresType(fd.DataTypeOID)
	}
	cols := make([][]any, len(fds))
	for i := range cols {
		cols[i] = []any{}
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("decode postgres row: %w", err)
		}
		for i, v := range vals {
			cols[i] = append(cols[i], postgresValue(v, types[i]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read postgres rows: %w", err)
	}
	return tableFromColumns(columnNames(names, len(names)), types, cols), nil
}

func postgresQuery(table string, maxRows int) string {
	q := "SELECT * FROM " + pgx.Identifier(strings.Split(table, ".")).Sanitize()
	if maxRows > 0 {
		q += fmt.Sprintf(" LIMIT %d", maxRows)
	}
	return q
}

// postgresType maps a column type OID. Unknown types are read as text.
func postgresType(oid uint32) engine.DataType {
	switch oid {
	case pgtype.BoolOID:
		return engine.Boolean
	case pgtype.Int2OID:
		return engine.Int16
	case pgtype.Int4OID:
		return engine.Int32
	case pgtype.Int8OID:
		return engine.Int64
	case pgtype.Float4OID:
		return engine.Float32
	case pgtype.Float8OID, pgtype.NumericOID:
		return engine.Float64
	case pgtype.ByteaOID:
		return engine.Binary
	case pgtype.DateOID:
		return engine.Date32
	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		return engine.Timestamp(engine.Microsecond)
	case pgtype.BoolArrayOID:
		return engine.ListOf(engine.Boolean)
	case pgtype.Int2ArrayOID, pgtype.Int4ArrayOID, pgtype.Int8ArrayOID:
		return engine.ListOf(engine.Int64)
	case pgtype.Float4ArrayOID, pgtype.Float8ArrayOID, pgtype.NumericArrayOID:
		return engine.ListOf(engine.Float64)
	case pgtype.TextArrayOID, pgtype.VarcharArrayOID, pgtype.UUIDArrayOID:
		return engine.ListOf(engine.Utf8)
	}
	return engine.Utf8
}

// postgresValue converts a pgx-decoded value into what the engine stores for dt.
func postgresValue(v any, dt engine.DataType) any {
	switch x := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case []any:
		if dt.Kind != engine.KindList {
			break
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = postgresValue(e, *dt.Elem)
		}
		return out
	}
	if dt.Kind != engine.KindUtf8 {
		return v
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
