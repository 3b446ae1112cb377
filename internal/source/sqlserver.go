package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type sqlServerLoader struct{}

func (sqlServerLoader) CanLoad(c Conn) bool { return c.Kind == KindSQLServer }

// Load reads one table over the "sqlserver" database/sql driver. Row limits
// are pushed down with TOP.
func (sqlServerLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("a table name is required for sqlserver sources (-t)")
	}
	db, err := sql.Open("sqlserver", c.Location)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect sqlserver: %w", err)
	}
	return readSQLRows(ctx, db, sqlServerQuery(opts.Table, opts.MaxRows), opts.limit(), sqlServerColumn)
}

func sqlServerQuery(table string, maxRows int) string {
	top := ""
	if maxRows > 0 {
		top = fmt.Sprintf("TOP (%d) ", maxRows)
	}
	return "SELECT " + top + "* FROM " + quoteSQLServerName(table)
}

// quoteSQLServerName brackets each dot-separated part, e.g. [dbo].[cars].
func quoteSQLServerName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "[" + strings.ReplaceAll(strings.Trim(p, "[]"), "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}

func sqlServerColumn(ct *sql.ColumnType) sqlColumn {
	col := sqlColumn{Name: ct.Name(), Type: sqlServerType(ct.DatabaseTypeName())}
	if n, ok := ct.Nullable(); ok {
		col.Nullable = n
	}
	if strings.EqualFold(ct.DatabaseTypeName(), "UNIQUEIDENTIFIER") {
		col.convert = uniqueIdentifierText
	}
	return col
}

func sqlServerType(name string) engine.DataType {
	switch strings.ToUpper(name) {
	case "BIT":
		return engine.Boolean
	case "TINYINT":
		return engine.UInt8
	case "SMALLINT":
		return engine.Int16
	case "INT":
		return engine.Int32
	case "BIGINT":
		return engine.Int64
	case "REAL":
		return engine.Float32
	case "FLOAT", "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return engine.Float64
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT", "XML", "UNIQUEIDENTIFIER", "TIME", "SQL_VARIANT":
		return engine.Utf8
	case "BINARY", "VARBINARY", "IMAGE":
		return engine.Binary
	case "DATE":
		return engine.Date32
	case "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET":
		return engine.Timestamp(engine.Microsecond)
	}
	return engine.Null
}

// uniqueIdentifierText renders SQL Server's mixed-endian GUID bytes.
func uniqueIdentifierText(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	var u mssql.UniqueIdentifier
	if err := u.Scan(b); err != nil {
		return v
	}
	return u.String()
}
