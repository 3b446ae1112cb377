package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

func writeSQLiteFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE orders (id INTEGER NOT NULL, item TEXT, price REAL, paid BOOLEAN, placed DATE, note)`,
		`INSERT INTO orders VALUES (1, 'tea', 3.5, 1, '2024-03-01', 'x')`,
		`INSERT INTO orders VALUES (2, 'cake', NULL, 0, '2024-03-02', 7)`,
		`INSERT INTO orders VALUES (3, NULL, 2, 1, NULL, NULL)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	return path
}

func TestLoadSQLite(t *testing.T) {
	path := writeSQLiteFixture(t)
	tbl, c, err := Load(context.Background(), "sqlite://"+path, Options{Table: "orders"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Kind != KindSQLite {
		t.Fatalf("kind = %q", c.Kind)
	}
	want := map[string]engine.DataType{
		"id":     engine.Int64,
		"item":   engine.Utf8,
		"price":  engine.Float64,
		"paid":   engine.Boolean,
		"placed": engine.Date32,
		"note":   engine.Utf8,
	}
	for name, dt := range want {
		f, ok := tbl.Schema.Field(name)
		if !ok || !f.Type.Equal(dt) {
			t.Fatalf("%s = %+v, want %s", name, f, dt)
		}
	}
	if tbl.NumRows() != 3 {
		t.Fatalf("rows = %d", tbl.NumRows())
	}
	if v, _ := tbl.Value(2, "price"); v != 2.0 {
		t.Fatalf("price[2] = %#v", v)
	}
	if v, _ := tbl.Value(1, "paid"); v != false {
		t.Fatalf("paid[1] = %#v", v)
	}
	if v, _ := tbl.Value(0, "placed"); !v.(time.Time).Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("placed[0] = %#v", v)
	}
	if v, _ := tbl.Value(1, "note"); v != "7" {
		t.Fatalf("note[1] = %#v", v)
	}
}

func TestLoadSQLiteLimitAndMissingTable(t *testing.T) {
	path := writeSQLiteFixture(t)
	tbl, _, err := Load(context.Background(), path, Options{Table: "orders", MaxRows: 1})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tbl.NumRows() != 1 {
		t.Fatalf("rows = %d", tbl.NumRows())
	}
	if _, _, err := Load(context.Background(), path, Options{Table: "nope"}); err == nil {
		t.Fatalf("expected error for missing table")
	}
}

func TestSQLiteDeclType(t *testing.T) {
	cases := map[string]engine.DataType{
		"":             engine.Null,
		"INTEGER":      engine.Int64,
		"bigint":       engine.Int64,
		"VARCHAR(20)":  engine.Utf8,
		"BLOB":         engine.Binary,
		"DOUBLE":       engine.Float64,
		"DECIMAL(9,2)": engine.Float64,
		"BOOLEAN":      engine.Boolean,
		"DATETIME":     engine.Timestamp(engine.Microsecond),
		"DATE":         engine.Date32,
		"JSONB":        engine.Null,
	}
	for decl, want := range cases {
		if got := sqliteDeclType(decl); !got.Equal(want) {
			t.Errorf("sqliteDeclType(%q) = %s, want %s", decl, got, want)
		}
	}
}

func TestInferScanned(t *testing.T) {
	dt, out := inferScanned([]any{int64(1), 2.5, nil})
	if !dt.Equal(engine.Float64) || out[0] != 1.0 || out[2] != nil {
		t.Fatalf("numeric widening = %s %#v", dt, out)
	}
	dt, out = inferScanned([]any{"a", int64(2)})
	if !dt.Equal(engine.Utf8) || out[1] != "2" {
		t.Fatalf("text fallback = %s %#v", dt, out)
	}
	dt, _ = inferScanned([]any{nil})
	if !dt.Equal(engine.Utf8) {
		t.Fatalf("all-null = %s", dt)
	}
}
