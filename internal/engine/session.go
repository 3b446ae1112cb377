package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Options configures a Session.
type Options struct {
	// MaxOpenConns bounds connections to the in-memory database. Defaults to 1.
	MaxOpenConns int
	// InsertBatchRows bounds rows per INSERT statement. Defaults to 500.
	InsertBatchRows int
	Logger          *slog.Logger
}

// TableInfo describes a registered table.
type TableInfo struct {
	Name   string
	Schema Schema
	Rows   int
}

// Session is a catalog of named tables backed by a private in-memory SQLite
// database. It is safe for concurrent use.
type Session struct {
	db   *sql.DB
	dsn  string
	log  *slog.Logger
	opts Options

	mu     sync.RWMutex
	tables map[string]TableInfo
	closed bool
}

// NewSession opens an empty session.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 1
	}
	if opts.InsertBatchRows <= 0 {
		opts.InsertBatchRows = 500
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	// Shared cache keeps every pooled connection on the same in-memory database.
	dsn := fmt.Sprintf("file:dataforge-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open engine database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping engine database: %w", err)
	}
	return &Session{
		db:     db,
		dsn:    dsn,
		log:    opts.Logger,
		opts:   opts,
		tables: map[string]TableInfo{},
	}, nil
}

// Close releases the database. Registered tables are lost.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Register stores t under name, replacing any table already registered with that name.
func (s *Session) Register(ctx context.Context, name string, t *Table) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("table name must not be empty")
	}
	if t == nil {
		return fmt.Errorf("register %q: nil table", name)
	}
	if err := t.Schema.validate(); err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register %q: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return &QueryError{Query: "DROP TABLE", Err: err}
	}
	cols := make([]string, len(t.Schema))
	for i, f := range t.Schema {
		cols[i] = quoteIdent(f.Name) + " " + f.Type.declType()
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if len(t.Schema) == 0 {
		// SQLite tables need at least one column.
		create = fmt.Sprintf("CREATE TABLE %s (%s NULL_BLOB)", quoteIdent(name), quoteIdent(unitColumn))
	}
	s.log.Debug("engine exec", "sql", create)
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return &QueryError{Query: create, Err: err}
	}
	if err := s.insertRows(ctx, tx, name, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register %q: %w", name, err)
	}
	schema := append(Schema(nil), t.Schema...)
	s.tables[name] = TableInfo{Name: name, Schema: schema, Rows: len(t.Rows)}
	s.log.Debug("engine registered table", "table", name, "rows", len(t.Rows), "columns", len(schema))
	return nil
}

// unitColumn backs tables and literal frames that have no columns.
const unitColumn = "__dataforge_unit"

func (s *Session) insertRows(ctx context.Context, tx *sql.Tx, name string, t *Table) error {
	ncol := len(t.Schema)
	if ncol == 0 {
		for range t.Rows {
			if _, err := tx.ExecContext(ctx, "INSERT INTO "+quoteIdent(name)+" VALUES (NULL)"); err != nil {
				return &QueryError{Query: "INSERT", Err: err}
			}
		}
		return nil
	}
	// SQLite caps bound parameters per statement at 32766.
	batch := s.opts.InsertBatchRows
	if limit := 32766 / ncol; batch > limit {
		batch = limit
	}
	if batch < 1 {
		batch = 1
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", ncol), ", ") + ")"
	args := make([]any, 0, batch*ncol)
	for start := 0; start < len(t.Rows); start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		args = args[:0]
		for r := start; r < end; r++ {
			row := t.Rows[r]
			if len(row) != ncol {
				return fmt.Errorf("register %q: row %d has %d values, schema has %d columns", name, r, len(row), ncol)
			}
			for c, v := range row {
				sv, err := toStorage(v, t.Schema[c].Type)
				if err != nil {
					return fmt.Errorf("register %q: row %d column %q: %w", name, r, t.Schema[c].Name, err)
				}
				args = append(args, sv)
			}
		}
		stmt := "INSERT INTO " + quoteIdent(name) + " VALUES " +
			strings.TrimSuffix(strings.Repeat(rowPlaceholder+", ", end-start), ", ")
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return &QueryError{Query: "INSERT INTO " + quoteIdent(name), Err: err}
		}
	}
	return nil
}

// Deregister drops a table. Dropping an unknown table is an error.
func (s *Session) Deregister(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	q := "DROP TABLE IF EXISTS " + quoteIdent(name)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return &QueryError{Query: q, Err: err}
	}
	delete(s.tables, name)
	return nil
}

// Tables lists registered tables sorted by name.
func (s *Session) Tables() []TableInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TableInfo, 0, len(s.tables))
	for _, ti := range s.tables {
		out = append(out, ti)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Table returns a DataFrame over a registered table.
func (s *Session) Table(name string) (*DataFrame, error) {
	s.mu.RLock()
	ti, ok := s.tables[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return &DataFrame{sess: s, query: selectList(ti.Schema) + " FROM " + quoteIdent(name) + " AS t", schema: ti.Schema}, nil
}

// FromTable returns a DataFrame whose rows are the literal values of t.
func (s *Session) FromTable(t *Table) (*DataFrame, error) {
	if err := t.Schema.validate(); err != nil {
		return nil, err
	}
	var selects []string
	for r, row := range t.Rows {
		if len(row) != len(t.Schema) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", r, len(row), len(t.Schema))
		}
		parts := make([]string, 0, len(row)+1)
		for c, v := range row {
			sv, err := toStorage(v, t.Schema[c].Type)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r, t.Schema[c].Name, err)
			}
			lit := sqlLiteral(sv)
			if sv == nil {
				lit = "CAST(NULL AS " + t.Schema[c].Type.physical() + ")"
			}
			parts = append(parts, lit+" AS "+quoteIdent(t.Schema[c].Name))
		}
		if len(parts) == 0 {
			parts = append(parts, "NULL AS "+quoteIdent(unitColumn))
		}
		selects = append(selects, "SELECT "+strings.Join(parts, ", "))
	}
	if len(selects) == 0 {
		parts := make([]string, 0, len(t.Schema)+1)
		for _, f := range t.Schema {
			parts = append(parts, "CAST(NULL AS "+f.Type.physical()+") AS "+quoteIdent(f.Name))
		}
		if len(parts) == 0 {
			parts = append(parts, "NULL AS "+quoteIdent(unitColumn))
		}
		selects = append(selects, "SELECT "+strings.Join(parts, ", ")+" WHERE 0")
	}
	schema := append(Schema(nil), t.Schema...)
	return &DataFrame{sess: s, query: strings.Join(selects, " UNION ALL "), schema: schema}, nil
}

// SQL runs an ad-hoc query over the registered tables and returns its result
// as a DataFrame. Column types come from declared column types where SQLite
// reports them and from a sample of the values otherwise.
func (s *Session) SQL(ctx context.Context, query string) (*DataFrame, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimRight(q, "; \t\n"))
	if q == "" {
		return nil, fmt.Errorf("empty query")
	}
	if !returnsRows(q) {
		return nil, ErrNotQuery
	}
	schema, err := s.inferSchema(ctx, q)
	if err != nil {
		return nil, err
	}
	// The newline ends a trailing -- comment before the subquery closes.
	return &DataFrame{sess: s, query: "SELECT * FROM (" + q + "\n) AS t", schema: schema}, nil
}

// returnsRows reports whether q starts, after comments, with a keyword that
// yields a result set.
func returnsRows(q string) bool {
	for {
		q = strings.TrimLeft(q, " \t\r\n")
		switch {
		case strings.HasPrefix(q, "--"):
			i := strings.IndexByte(q, '\n')
			if i < 0 {
				return false
			}
			q = q[i+1:]
		case strings.HasPrefix(q, "/*"):
			i := strings.Index(q[2:], "*/")
			if i < 0 {
				return false
			}
			q = q[i+4:]
		default:
			end := strings.IndexFunc(q, func(r rune) bool {
				return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				end = len(q)
			}
			switch strings.ToUpper(q[:end]) {
			case "SELECT", "WITH", "VALUES":
				return true
			}
			return false
		}
	}
}

const sqlSampleRows = 1000

func (s *Session) inferSchema(ctx context.Context, q string) (Schema, error) {
	s.log.Debug("engine query", "sql", q)
	// Sample inside a transaction that is always rolled back, so a statement
	// with side effects (WITH ... DELETE) leaves the catalog untouched.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &QueryError{Query: q, Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{Query: q, Err: err}
	}
	defer rows.Close()
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, &QueryError{Query: q, Err: err}
	}
	if len(cts) == 0 {
		return nil, fmt.Errorf("statement returned no columns")
	}
	schema := make(Schema, len(cts))
	known := make([]bool, len(cts))
	samples := make([]sampleKind, len(cts))
	for i, ct := range cts {
		schema[i] = Field{Name: ct.Name(), Nullable: true}
		if t, ok := typeFromDecl(ct.DatabaseTypeName()); ok {
			schema[i].Type = t
			known[i] = true
		}
	}
	if err := schema.validate(); err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}
	vals := make([]any, len(cts))
	ptrs := make([]any, len(cts))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for n := 0; n < sqlSampleRows && rows.Next(); n++ {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{Query: q, Err: err}
		}
		for i, v := range vals {
			if !known[i] {
				samples[i] = samples[i].observe(v)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: q, Err: err}
	}
	for i := range schema {
		if !known[i] {
			schema[i].Type = samples[i].dataType()
		}
	}
	return schema, nil
}

// sampleKind accumulates the storage classes seen in an untyped result column.
type sampleKind uint8

const (
	sawInt sampleKind = 1 << iota
	sawFloat
	sawText
	sawBlob
)

func (k sampleKind) observe(v any) sampleKind {
	switch v.(type) {
	case int64:
		return k | sawInt
	case float64:
		return k | sawFloat
	case string:
		return k | sawText
	case []byte:
		return k | sawBlob
	}
	return k
}

func (k sampleKind) dataType() DataType {
	switch {
	case k == 0:
		return Null
	case k&sawText != 0:
		return Utf8
	case k&sawBlob != 0:
		if k == sawBlob {
			return Binary
		}
		return Utf8
	case k&sawFloat != 0:
		return Float64
	default:
		return Int64
	}
}

func selectList(schema Schema) string {
	if len(schema) == 0 {
		return "SELECT NULL AS " + quoteIdent(unitColumn)
	}
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = "t." + quoteIdent(f.Name)
	}
	return "SELECT " + strings.Join(cols, ", ")
}
