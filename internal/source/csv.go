package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type csvLoader struct{}

func (csvLoader) CanLoad(c Conn) bool {
	return c.Kind == KindFile && (c.Format == "csv" || c.Format == "tsv")
}

func (csvLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	rc, err := openFile(c)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer rc.Close()

	text, err := decodeText(rc, opts.Encoding)
	if err != nil {
		return nil, err
	}
	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(c)
	}
	return readCSV(ctx, text, delim, opts)
}

// ParseDelimiter accepts a single character or one of the names tab, comma,
// semicolon and pipe.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	case "pipe":
		return '|', nil
	}
	r := []rune(s)
	if len(r) != 1 || r[0] == '"' || r[0] == '\r' || r[0] == '\n' {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r[0], nil
}

func sniffDelimiter(c Conn) rune {
	if c.Format == "tsv" {
		return '\t'
	}
	return ','
}

// decodeText converts r to UTF-8. A byte order mark always wins over label.
func decodeText(r io.Reader, label string) (io.Reader, error) {
	var enc encoding.Encoding = unicode.UTF8
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
	case "utf-16", "utf16":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	default:
		e, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
		}
		enc = e
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

func readCSV(ctx context.Context, r io.Reader, delim rune, opts Options) (*engine.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = delim

	var header []string
	if !opts.NoHeader {
		h, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return &engine.Table{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		header = append([]string(nil), h...)
	}

	limit := opts.limit()
	var records [][]string
	for len(records) < limit {
		if len(records)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}
	return tableFromText(header, records), nil
}
