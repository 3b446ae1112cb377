package source

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

const htmlPage = `<html><body>
<table id="nav"><tr><td>home</td></tr></table>
<table>
  <thead><tr><th>City</th><th>Pop</th><th>Note</th></tr></thead>
  <tbody>
    <tr><td>Oslo</td><td>709</td><td>  capital
      city </td></tr>
    <tr><td>Bergen</td><td>291</td><td><table><tr><td>inner</td></tr></table></td></tr>
    <tr><td colspan="2">n/a</td><td></td></tr>
  </tbody>
</table>
<table>
  <tr><th>k</th><th>v</th></tr>
  <tr><td>a</td><td>1</td></tr>
</table>
</body></html>`

func TestLoadHTMLTable(t *testing.T) {
	path := writeFile(t, "cities.html", []byte(htmlPage))
	tbl, _, err := Load(context.Background(), path, Options{Table: "2"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tbl.Schema.Names(); !reflect.DeepEqual(got, []string{"City", "Pop", "Note"}) {
		t.Fatalf("columns = %v", got)
	}
	if tbl.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", tbl.NumRows())
	}
	if v, _ := tbl.Value(0, "Note"); v != "capital city" {
		t.Fatalf("note = %q", v)
	}
	// colspan repeats the cell text.
	if v, _ := tbl.Value(2, "Pop"); v != "n/a" {
		t.Fatalf("spanned pop = %#v", v)
	}
	pop, _ := tbl.Schema.Field("Pop")
	if !pop.Type.Equal(engine.Utf8) {
		t.Fatalf("pop type = %s", pop.Type)
	}
}

func TestLoadHTMLHeaderRowAndIndex(t *testing.T) {
	path := writeFile(t, "cities.html", []byte(htmlPage))
	tbl, _, err := Load(context.Background(), path, Options{Table: "3"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tbl.Schema.Names(); !reflect.DeepEqual(got, []string{"k", "v"}) || tbl.NumRows() != 1 {
		t.Fatalf("columns = %v rows = %d", got, tbl.NumRows())
	}
	if _, _, err := Load(context.Background(), path, Options{Table: "9"}); err == nil {
		t.Fatalf("expected error for missing table")
	}
	if _, _, err := Load(context.Background(), path, Options{Table: "x"}); err == nil {
		t.Fatalf("expected error for non-numeric index")
	}
}

func TestReadHTMLTableNoHeader(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlPage))
	if err != nil {
		t.Fatal(err)
	}
	header, records := readHTMLTable(doc.Find("table").Last(), true)
	if header != nil {
		t.Fatalf("header = %v", header)
	}
	if len(records) != 2 || !reflect.DeepEqual(records[0], []string{"k", "v"}) {
		t.Fatalf("records = %v", records)
	}
}
