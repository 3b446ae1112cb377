package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/dataforge-cli/internal/render"
)

const carsCSV = "make,mpg,cyl\nvw,31.5,4\nbmw,24,6\nfiat,,4\naudi,28,\n"

func writeCars(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cars.csv")
	if err := os.WriteFile(path, []byte(carsCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestShell(t *testing.T, in string, out *bytes.Buffer) *Shell {
	t.Helper()
	s := New(newTestBackend(t), Options{In: strings.NewReader(in), Out: out, Format: render.CSV, Quiet: true})
	t.Cleanup(s.Close)
	return s
}

func TestExecCommands(t *testing.T) {
	ctx := context.Background()
	path := writeCars(t)
	s := newTestShell(t, "", &bytes.Buffer{})

	cases := []struct {
		line string
		want string
	}{
		{"connect " + path + " -n cars", "✓ Connected cars\n"},
		{"list", "table_name,table_type,rows,columns,source\ncars,csv,4,3," + path + "\n"},
		{"schema cars", "column_name,data_type,is_nullable\nmake,Utf8,NO\nmpg,Float64,YES\ncyl,Int64,YES\n"},
		{"schema -n cars", "column_name,data_type,is_nullable\nmake,Utf8,NO\nmpg,Float64,YES\ncyl,Int64,YES\n"},
		{"head -n cars -s 2", "make,mpg,cyl\nvw,31.5,4\nbmw,24,6\n"},
		{`sql --sql "SELECT make FROM cars WHERE cyl = 4 ORDER BY make"`, "make\nfiat\nvw\n"},
		{"sql SELECT count(*) AS n FROM cars", "n\n4\n"},
		{"describe -n cars --agg count,max", "describe,make,mpg,cyl\ncount,4,3,3\nmax,4,31.5,6\n"},
		{"  ", ""},
		{"# comment", ""},
	}
	for _, c := range cases {
		got, err := s.Exec(ctx, c.line)
		if err != nil {
			t.Fatalf("Exec(%q): %v", c.line, err)
		}
		if got != c.want {
			t.Errorf("Exec(%q) =\n%s\nwant\n%s", c.line, got, c.want)
		}
	}
}

func TestExecFormatFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestShell(t, "", &bytes.Buffer{})
	if _, err := s.Exec(ctx, "connect "+writeCars(t)+" -n cars"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Exec(ctx, "head -n cars -s 1 --format json")
	if err != nil {
		t.Fatal(err)
	}
	if want := "[\n  {\"make\": \"vw\", \"mpg\": 31.5, \"cyl\": 4}\n]\n"; got != want {
		t.Fatalf("json head = %q, want %q", got, want)
	}
	// The flag applies to one line only.
	got, _ = s.Exec(ctx, "head -n cars -s 1")
	if !strings.HasPrefix(got, "make,mpg,cyl\n") {
		t.Fatalf("format leaked into next line: %q", got)
	}
}

func TestExecErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestShell(t, "", &bytes.Buffer{})
	cases := []struct {
		line string
		want string
	}{
		{"bogus", "unknown command"},
		{"connect x.csv", `required flag(s) "name" not set`},
		{"head", "dataset name is required"},
		{"head -n missing", "missing"},
		{"describe -n cars --agg wat", "wat"},
		{"sql", "query is required"},
		{`sql --sql "SELECT`, "unterminated"},
		{"list --format xml", "xml"},
		{"head -n cars other", "given twice"},
	}
	for _, c := range cases {
		_, err := s.Exec(ctx, c.line)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Errorf("Exec(%q) err = %v, want containing %q", c.line, err, c.want)
		}
	}
	if _, err := s.Exec(ctx, "QUIT"); !errors.Is(err, ErrExit) {
		t.Fatalf("quit err = %v", err)
	}
}

func TestRunScript(t *testing.T) {
	path := writeCars(t)
	script := strings.Join([]string{
		"connect " + path + " -n cars",
		"head -n nope",
		"sql --sql 'SELECT max(cyl) AS m FROM cars'",
		"exit",
		"list",
	}, "\n")
	var out bytes.Buffer
	s := newTestShell(t, script, &out)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, Banner+"\n") {
		t.Fatalf("missing banner: %q", got)
	}
	for _, want := range []string{"✓ Connected cars\n", "Err: ", "m\n6\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "table_name") {
		t.Errorf("commands after exit were run:\n%s", got)
	}
}

func TestRunPromptAndEOF(t *testing.T) {
	var out bytes.Buffer
	s := New(newTestBackend(t), Options{In: strings.NewReader("list\n"), Out: &out})
	defer s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out.String(), DefaultPrompt); n != 2 {
		t.Fatalf("prompts = %d, want 2:\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "0 row(s)") {
		t.Fatalf("expected empty table output:\n%s", out.String())
	}
}
