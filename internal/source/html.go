package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type htmlLoader struct{}

func (htmlLoader) CanLoad(c Conn) bool { return c.Kind == KindFile && c.Format == "html" }

// Load reads the opts.Table-th top-level <table> of the page (1-based, default 1). The
// header comes from <thead>, or from the first row when it holds only <th>
// cells; otherwise columns are numbered.
func (htmlLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	rc, err := openFile(c)
	if err != nil {
		return nil, fmt.Errorf("open html: %w", err)
	}
	defer rc.Close()
	text, err := decodeText(rc, opts.Encoding)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(text)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := 1
	if opts.Table != "" {
		idx, err = strconv.Atoi(opts.Table)
		if err != nil || idx < 1 {
			return nil, fmt.Errorf("html table index must be a positive integer, got %q", opts.Table)
		}
	}
	tables := doc.Find("table").FilterFunction(func(_ int, t *goquery.Selection) bool {
		return t.ParentsFiltered("table").Length() == 0
	})
	if tables.Length() < idx {
		return nil, fmt.Errorf("html table %d not found (page has %d)", idx, tables.Length())
	}
	header, records := readHTMLTable(tables.Eq(idx-1), opts.NoHeader)
	if limit := opts.limit(); len(records) > limit {
		records = records[:limit]
	}
	return tableFromText(header, records), nil
}

func readHTMLTable(table *goquery.Selection, noHeader bool) ([]string, [][]string) {
	var header []string
	if !noHeader {
		table.Find("thead tr").First().Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			header = append(header, cellText(cell))
		})
	}

	var records [][]string
	// Rows of nested tables belong to those tables.
	table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table) && (noHeader || tr.ParentsFiltered("thead").Length() == 0)
	}).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("th,td")
		if cells.Length() == 0 {
			return
		}
		var rec []string
		cells.Each(func(_ int, cell *goquery.Selection) {
			text := cellText(cell)
			span, _ := strconv.Atoi(cell.AttrOr("colspan", "1"))
			for i := 0; i < max(span, 1); i++ {
				rec = append(rec, text)
			}
		})
		if header == nil && !noHeader && len(records) == 0 && cells.Length() == cells.Filter("th").Length() {
			header = rec
			return
		}
		records = append(records, rec)
	})
	return header, records
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
