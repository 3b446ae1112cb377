package source

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type xlsxLoader struct{}

func (xlsxLoader) CanLoad(c Conn) bool { return c.Kind == KindFile && c.Format == "xlsx" }

// Load reads one worksheet. The sheet is chosen by opts.Sheet, then opts.Table
// (a name or a 1-based index), defaulting to the first sheet.
func (xlsxLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	zr, err := zip.OpenReader(c.Location)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer zr.Close()

	sel := opts.Sheet
	if sel == "" {
		sel = opts.Table
	}
	target, err := resolveSheet(&zr.Reader, sel, filepath.Base(c.Location))
	if err != nil {
		return nil, err
	}
	sheetXML := readZipFile(&zr.Reader, target)
	if sheetXML == nil {
		return nil, fmt.Errorf("xlsx: worksheet %s missing from archive", target)
	}
	shared := parseSharedStrings(readZipFile(&zr.Reader, "xl/sharedStrings.xml"))

	rr := newSheetRowReader(sheetXML, shared)
	var header []string
	if !opts.NoHeader {
		h, ok := rr.Next()
		if !ok {
			return &engine.Table{}, nil
		}
		header = h
	}
	limit := opts.limit()
	var records [][]string
	for len(records) < limit {
		if len(records)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, ok := rr.Next()
		if !ok {
			break
		}
		records = append(records, row)
	}
	if err := rr.Err(); err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return tableFromText(header, trimTrailingEmpty(records)), nil
}

// resolveSheet maps a sheet name or 1-based index to its zip entry.
func resolveSheet(zr *zip.Reader, sel, file string) (string, error) {
	sheets := parseWorkbook(readZipFile(zr, "xl/workbook.xml"))
	rels := parseRelationships(readZipFile(zr, "xl/_rels/workbook.xml.rels"))

	pick := func(s wbSheet) string {
		if rel, ok := rels[s.RID]; ok {
			return normalizeRelPath(rel)
		}
		return path.Join("xl", "worksheets", fmt.Sprintf("sheet%d.xml", s.SheetID))
	}
	if sel == "" {
		if len(sheets) == 0 {
			return "xl/worksheets/sheet1.xml", nil
		}
		return pick(sheets[0]), nil
	}
	for _, s := range sheets {
		if strings.EqualFold(s.Name, sel) {
			return pick(s), nil
		}
	}
	if idx, err := strconv.Atoi(sel); err == nil && idx >= 1 && idx <= len(sheets) {
		return pick(sheets[idx-1]), nil
	}
	available := make([]string, len(sheets))
	for i, s := range sheets {
		available[i] = s.Name
	}
	return "", fmt.Errorf("sheet %q not found in workbook %q (available sheets: %s)", sel, file, strings.Join(available, ", "))
}

// trimTrailingEmpty drops blank rows at the end of a sheet; formatting often
// leaves them behind.
func trimTrailingEmpty(records [][]string) [][]string {
	for len(records) > 0 {
		last := records[len(records)-1]
		blank := true
		for _, v := range last {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if !blank {
			break
		}
		records = records[:len(records)-1]
	}
	return records
}

type wbSheet struct {
	Name    string
	SheetID int
	RID     string
}

// parseWorkbook extracts sheet entries with names and relationship ids in
// workbook order.
func parseWorkbook(data []byte) []wbSheet {
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var sheets []wbSheet
	for {
		tok, err := dec.Token()
		if err != nil {
			return sheets
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sheet" {
			continue
		}
		var s wbSheet
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "name":
				s.Name = a.Value
			case "sheetId":
				s.SheetID = atoiSafe(a.Value)
			case "id":
				s.RID = a.Value
			}
		}
		sheets = append(sheets, s)
	}
}

// parseRelationships returns map[r:id]Target.
func parseRelationships(data []byte) map[string]string {
	out := map[string]string{}
	if len(data) == 0 {
		return out
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			continue
		}
		var id, target string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "Id":
				id = a.Value
			case "Target":
				target = a.Value
			}
		}
		if id != "" && target != "" {
			out[id] = target
		}
	}
}

func readZipFile(zr *zip.Reader, name string) []byte {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}

func parseSharedStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []string
	var buf strings.Builder
	var inT bool
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inT = false
			case "si":
				out = append(out, buf.String())
				buf.Reset()
			}
		case xml.CharData:
			if inT {
				buf.Write(se)
			}
		}
	}
}

// sheetRowReader streams rows of a worksheet as text cells.
type sheetRowReader struct {
	dec    *xml.Decoder
	shared []string
	err    error
}

func newSheetRowReader(data []byte, shared []string) *sheetRowReader {
	return &sheetRowReader{dec: xml.NewDecoder(bytes.NewReader(data)), shared: shared}
}

// Err reports a decoding failure that ended iteration early.
func (r *sheetRowReader) Err() error { return r.err }

func (r *sheetRowReader) Next() ([]string, bool) {
	var (
		inRow bool
		row   []string
		next  int
	)
	for {
		tok, err := r.dec.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
			}
			return nil, false
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "row" {
				inRow, row, next = true, nil, 0
				continue
			}
			if !inRow || se.Name.Local != "c" {
				continue
			}
			var ref, typ string
			for _, a := range se.Attr {
				switch a.Name.Local {
				case "r":
					ref = a.Value
				case "t":
					typ = a.Value
				}
			}
			col := next
			if ref != "" {
				col = colIndexFromRef(ref)
			}
			next = col + 1
			val := r.readCellValue(typ)
			if len(row) <= col {
				tmp := make([]string, col+1)
				copy(tmp, row)
				row = tmp
			}
			row[col] = val
		case xml.EndElement:
			if se.Name.Local == "row" && inRow {
				return row, true
			}
		}
	}
}

func (r *sheetRowReader) readCellValue(typ string) string {
	var val string
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return val
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "v" || se.Name.Local == "t" {
				var sb strings.Builder
				for {
					tk, er := r.dec.Token()
					if er != nil {
						break
					}
					if ed, ok := tk.(xml.EndElement); ok && (ed.Name.Local == "v" || ed.Name.Local == "t") {
						break
					}
					if ch, ok := tk.(xml.CharData); ok {
						sb.Write(ch)
					}
				}
				val += sb.String()
			}
		case xml.EndElement:
			if se.Name.Local != "c" {
				continue
			}
			switch typ {
			case "s":
				idx := atoiSafe(val)
				if idx >= 0 && idx < len(r.shared) {
					return r.shared[idx]
				}
				return ""
			case "b":
				if val == "1" {
					return "true"
				}
				return "false"
			}
			return val
		}
	}
}

// colIndexFromRef maps refs like "C12" to a 0-based column index.
func colIndexFromRef(ref string) int {
	idx := 0
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'A' && c <= 'Z':
			idx = idx*26 + int(c-'A'+1)
		case c >= 'a' && c <= 'z':
			idx = idx*26 + int(c-'a'+1)
		default:
			return max(idx-1, 0)
		}
	}
	return max(idx-1, 0)
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// normalizeRelPath converts relationship targets to zip entry names.
// Targets may be absolute ("/xl/worksheets/sheet1.xml") or relative to xl/.
func normalizeRelPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}
