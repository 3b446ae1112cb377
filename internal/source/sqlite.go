package source

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type sqliteLoader struct{}

func (sqliteLoader) CanLoad(c Conn) bool { return c.Kind == KindSQLite }

// Load copies one table of a SQLite database file, opened read-only.
func (sqliteLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("a table name is required for sqlite sources (-t)")
	}
	if _, err := os.Stat(c.Location); err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	dsn := "file:" + (&url.URL{Path: c.Location}).EscapedPath() + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	q := "SELECT * FROM " + quoteSQLiteName(opts.Table)
	return readSQLRows(ctx, db, q, opts.limit(), sqliteColumn)
}

func quoteSQLiteName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// sqliteColumn follows SQLite's affinity rules on the declared type, with
// dates, booleans and decimals recognized by name.
func sqliteColumn(ct *sql.ColumnType) sqlColumn {
	col := sqlColumn{Name: ct.Name(), Type: sqliteDeclType(ct.DatabaseTypeName())}
	if n, ok := ct.Nullable(); ok {
		col.Nullable = n
	}
	return col
}

func sqliteDeclType(decl string) engine.DataType {
	d := strings.ToUpper(strings.TrimSpace(decl))
	switch {
	case d == "":
		return engine.Null
	case strings.HasPrefix(d, "BOOL"):
		return engine.Boolean
	case strings.Contains(d, "DATETIME"), strings.Contains(d, "TIMESTAMP"):
		return engine.Timestamp(engine.Microsecond)
	case d == "DATE":
		return engine.Date32
	case strings.Contains(d, "INT"):
		return engine.Int64
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return engine.Utf8
	case strings.Contains(d, "BLOB"):
		return engine.Binary
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"):
		return engine.Float64
	}
	return engine.Null
}
