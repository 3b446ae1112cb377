// Package source turns connection strings into engine tables.
//
// A connection is either a database URL (postgres://, sqlserver://, sqlite://)
// or a file path whose extensions select the format and an optional
// compression layer (gzip or bzip2). Loaders register themselves in init and
// are consulted in registration order.
package source

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
	"github.com/KaramelBytes/dataforge-cli/internal/logging"
	"github.com/KaramelBytes/dataforge-cli/internal/metrics"
)

// ErrUnsupported indicates a connection kind or file format no loader handles.
var ErrUnsupported = errors.New("unsupported data source")

// Connection kinds.
const (
	KindFile      = "file"
	KindPostgres  = "postgres"
	KindSQLServer = "sqlserver"
	KindSQLite    = "sqlite"
)

// Conn is a parsed connection string.
type Conn struct {
	Raw  string
	Kind string
	// Location is the file path for files and SQLite, the DSN otherwise.
	Location string
	// Format is csv, tsv, json, ndjson, parquet, xlsx, html or sqlite for files.
	Format      string
	Compression string
}

func (c Conn) String() string { return c.Raw }

// Options tune a single load.
type Options struct {
	// Table names the database table, the xlsx sheet or the 1-based html table index.
	Table string
	Sheet string
	// Delimiter overrides the CSV separator; zero sniffs it from the extension.
	Delimiter rune
	// Encoding is a WHATWG encoding label for text files; empty means UTF-8.
	Encoding string
	NoHeader bool
	// MaxRows caps loaded rows; zero means unlimited.
	MaxRows int
	Logger  *slog.Logger
}

func (o Options) limit() int {
	if o.MaxRows <= 0 {
		return int(^uint(0) >> 1)
	}
	return o.MaxRows
}

// Loader reads one family of sources.
type Loader interface {
	CanLoad(c Conn) bool
	Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error)
}

var registry []Loader

// Register adds a loader to the registry.
func Register(l Loader) {
	registry = append(registry, l)
}

func init() {
	Register(csvLoader{})
	Register(jsonLoader{})
	Register(parquetLoader{})
	Register(xlsxLoader{})
	Register(htmlLoader{})
	Register(postgresLoader{})
	Register(sqlServerLoader{})
	Register(sqliteLoader{})
}

// ParseConn classifies a connection string.
func ParseConn(raw string) (Conn, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Conn{}, fmt.Errorf("%w: empty connection string", ErrUnsupported)
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Conn{Raw: s, Kind: KindPostgres, Location: s}, nil
	case strings.HasPrefix(lower, "sqlserver://"):
		return Conn{Raw: s, Kind: KindSQLServer, Location: s}, nil
	case strings.HasPrefix(lower, "sqlite://"):
		return Conn{Raw: s, Kind: KindSQLite, Location: s[len("sqlite://"):], Format: "sqlite"}, nil
	case strings.Contains(lower, "://"):
		return Conn{}, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}

	format, compression := DetectType(s)
	if format == "" {
		return Conn{}, fmt.Errorf("%w: cannot tell the format of %q", ErrUnsupported, s)
	}
	if format == "sqlite" {
		if compression != "" {
			return Conn{}, fmt.Errorf("%w: compressed sqlite database %q", ErrUnsupported, s)
		}
		return Conn{Raw: s, Kind: KindSQLite, Location: s, Format: format}, nil
	}
	if compression != "" && (format == "parquet" || format == "xlsx") {
		// Both need random access to the whole file.
		return Conn{}, fmt.Errorf("%w: compressed %s file %q", ErrUnsupported, format, s)
	}
	return Conn{Raw: s, Kind: KindFile, Location: s, Format: format, Compression: compression}, nil
}

// DetectType derives the file format and compression from the path extensions.
func DetectType(path string) (format, compression string) {
	name := strings.ToLower(filepath.Base(path))
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return "", ""
	}
	for _, ext := range parts[1:] {
		switch ext {
		case "gz", "gzip":
			compression = "gzip"
		case "bz2", "bzip2":
			compression = "bzip2"
		case "csv":
			format = "csv"
		case "tsv", "tab":
			format = "tsv"
		case "json":
			format = "json"
		case "ndjson", "jsonl", "ldjson":
			format = "ndjson"
		case "parquet", "pq":
			format = "parquet"
		case "xlsx":
			format = "xlsx"
		case "html", "htm":
			format = "html"
		case "db", "sqlite", "sqlite3":
			format = "sqlite"
		}
	}
	return format, compression
}

// Load parses conn and reads it with the first loader that accepts it.
func Load(ctx context.Context, conn string, opts Options) (*engine.Table, Conn, error) {
	c, err := ParseConn(conn)
	if err != nil {
		return nil, Conn{}, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("source")
	}
	for _, l := range registry {
		if !l.CanLoad(c) {
			continue
		}
		start := time.Now()
		t, err := l.Load(ctx, c, opts)
		if err != nil {
			return nil, c, fmt.Errorf("load %s: %w", c, err)
		}
		format := c.Format
		if format == "" {
			format = c.Kind
		}
		metrics.RecordRowsLoaded(format, t.NumRows())
		opts.Logger.Info("source loaded", "source", c.Raw, "format", format, "rows", t.NumRows(), "columns", len(t.Schema), "took", time.Since(start))
		return t, c, nil
	}
	return nil, c, fmt.Errorf("%w: %q", ErrUnsupported, conn)
}

// openFile opens c for reading, undoing its compression layer.
func openFile(c Conn) (io.ReadCloser, error) {
	f, err := os.Open(c.Location)
	if err != nil {
		return nil, err
	}
	switch c.Compression {
	case "":
		return f, nil
	case "gzip":
		gr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &stackedCloser{Reader: gr, closers: []io.Closer{gr, f}}, nil
	case "bzip2":
		return &stackedCloser{Reader: bzip2.NewReader(f), closers: []io.Closer{f}}, nil
	}
	_ = f.Close()
	return nil, fmt.Errorf("%w: compression %q", ErrUnsupported, c.Compression)
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
