package source

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

func TestPostgresQuery(t *testing.T) {
	if got := postgresQuery("public.cars", 0); got != `SELECT * FROM "public"."cars"` {
		t.Fatalf("query = %s", got)
	}
	if got := postgresQuery(`we"ird`, 10); got != `SELECT * FROM "we""ird" LIMIT 10` {
		t.Fatalf("query = %s", got)
	}
}

func TestPostgresType(t *testing.T) {
	cases := []struct {
		oid  uint32
		want engine.DataType
	}{
		{pgtype.BoolOID, engine.Boolean},
		{pgtype.Int4OID, engine.Int32},
		{pgtype.NumericOID, engine.Float64},
		{pgtype.TimestamptzOID, engine.Timestamp(engine.Microsecond)},
		{pgtype.Int8ArrayOID, engine.ListOf(engine.Int64)},
		{pgtype.JSONBOID, engine.Utf8},
		{pgtype.UUIDOID, engine.Utf8},
	}
	for _, tc := range cases {
		if got := postgresType(tc.oid); !got.Equal(tc.want) {
			t.Errorf("postgresType(%d) = %s, want %s", tc.oid, got, tc.want)
		}
	}
}

func TestPostgresValue(t *testing.T) {
	id := [16]byte{0x12, 0x3e, 0x45, 0x67, 0xe8, 0x9b, 0x12, 0xd3, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00}
	if got := postgresValue(id, engine.Utf8); got != "123e4567-e89b-12d3-a456-426614174000" {
		t.Fatalf("uuid = %#v", got)
	}
	num := pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}
	if got := postgresValue(num, engine.Float64); got != 123.45 {
		t.Fatalf("numeric = %#v", got)
	}
	if got := postgresValue(pgtype.Numeric{}, engine.Float64); got != nil {
		t.Fatalf("invalid numeric = %#v", got)
	}
	list := postgresValue([]any{int64(1), nil}, engine.ListOf(engine.Int64))
	if !reflect.DeepEqual(list, []any{int64(1), nil}) {
		t.Fatalf("list = %#v", list)
	}
	if got := postgresValue(map[string]any{"a": 1.0}, engine.Utf8); got != `{"a":1}` {
		t.Fatalf("json = %#v", got)
	}
	if got := postgresValue(int64(4), engine.Int64); got != int64(4) {
		t.Fatalf("int = %#v", got)
	}
}

func TestSQLServerQuery(t *testing.T) {
	cases := []struct {
		table string
		max   int
		want  string
	}{
		{"cars", 0, "SELECT * FROM [cars]"},
		{"dbo.cars", 5, "SELECT TOP (5) * FROM [dbo].[cars]"},
		{"[dbo].odd]name", 0, "SELECT * FROM [dbo].[odd]]name]"},
	}
	for _, tc := range cases {
		if got := sqlServerQuery(tc.table, tc.max); got != tc.want {
			t.Errorf("sqlServerQuery(%q, %d) = %s, want %s", tc.table, tc.max, got, tc.want)
		}
	}
}

func TestSQLServerType(t *testing.T) {
	cases := map[string]engine.DataType{
		"BIT":              engine.Boolean,
		"tinyint":          engine.UInt8,
		"NVARCHAR":         engine.Utf8,
		"DECIMAL":          engine.Float64,
		"DATETIME2":        engine.Timestamp(engine.Microsecond),
		"DATE":             engine.Date32,
		"VARBINARY":        engine.Binary,
		"UNIQUEIDENTIFIER": engine.Utf8,
		"GEOGRAPHY":        engine.Null,
	}
	for name, want := range cases {
		if got := sqlServerType(name); !got.Equal(want) {
			t.Errorf("sqlServerType(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestUniqueIdentifierText(t *testing.T) {
	// SQL Server stores the first three groups little-endian.
	raw := []byte{0x67, 0x45, 0x3e, 0x12, 0x9b, 0xe8, 0xd3, 0x12, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00}
	if got := uniqueIdentifierText(raw); got != "123E4567-E89B-12D3-A456-426614174000" {
		t.Fatalf("guid = %#v", got)
	}
	if got := uniqueIdentifierText("already text"); got != "already text" {
		t.Fatalf("passthrough = %#v", got)
	}
}
