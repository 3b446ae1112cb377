package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const carsCSV = "make,mpg,cyl\nvw,31.5,4\nbmw,24,6\nfiat,,4\naudi,28,\n"

// execCmd runs the root command with args and stdin, returning its stdout.
func execCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	// Reset sticky flag variables between invocations
	cfgFile, flagFormat, debug = "", "", false
	cfg = nil
	descAggs, descConcurrency, descLoad = nil, 0, loadFlags{}
	schemaLoad, headLoad, headRows = loadFlags{}, loadFlags{}, 0
	sqlLoads, shellLoads = nil, nil
	t.Cleanup(func() { cfg = nil })

	if args == nil {
		args = []string{}
	}
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	return out.String(), err
}

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execCmd(t, "", args...)
	if err != nil {
		t.Fatalf("command %v failed: %v", args, err)
	}
	return out
}

func writeCars(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cars.csv")
	if err := os.WriteFile(path, []byte(carsCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestCLI_DescribeSchemaHead(t *testing.T) {
	path := writeCars(t)

	got := runCmd(t, "describe", path, "--agg", "count,max", "--format", "csv")
	if want := "describe,make,mpg,cyl\ncount,4,3,3\nmax,4,31.5,6\n"; got != want {
		t.Fatalf("describe =\n%s\nwant\n%s", got, want)
	}

	got = runCmd(t, "schema", path, "--format", "csv")
	if want := "column_name,data_type,is_nullable\nmake,Utf8,NO\nmpg,Float64,YES\ncyl,Int64,YES\n"; got != want {
		t.Fatalf("schema =\n%s", got)
	}

	got = runCmd(t, "head", path, "-s", "1", "--format", "csv")
	if want := "make,mpg,cyl\nvw,31.5,4\n"; got != want {
		t.Fatalf("head =\n%s", got)
	}
}

func TestCLI_DescribeDefaultAggregators(t *testing.T) {
	got := runCmd(t, "describe", writeCars(t), "--format", "csv")
	lines := strings.Split(strings.TrimSpace(got), "\n")
	var labels []string
	for _, l := range lines[1:] {
		labels = append(labels, strings.SplitN(l, ",", 2)[0])
	}
	want := "count max mean median min null_count percentile(25) stddev"
	if strings.Join(labels, " ") != want {
		t.Fatalf("labels = %v, want %s", labels, want)
	}
}

func TestCLI_SQLWithLoads(t *testing.T) {
	path := writeCars(t)
	got := runCmd(t, "sql", "--load", "cars="+path, "--load", "more="+path, "--format", "csv",
		"SELECT count(*) AS n FROM cars JOIN more USING (make)")
	if got != "n\n4\n" {
		t.Fatalf("sql = %q", got)
	}
	if _, err := execCmd(t, "", "sql", "--load", "broken", "SELECT 1"); err == nil || !strings.Contains(err.Error(), "name=connection") {
		t.Fatalf("bad --load err = %v", err)
	}
}

func TestCLI_ShellScript(t *testing.T) {
	path := writeCars(t)
	script := "head -n cars -s 1\nschema nope\nexit\n"
	out, err := execCmd(t, script, "shell", "--load", "cars="+path, "--format", "csv")
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	for _, want := range []string{"Welcome to Data Forge", "dataforge> ", "make,mpg,cyl\nvw,31.5,4\n", "Err: "} {
		if !strings.Contains(out, want) {
			t.Errorf("shell output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_NoSubcommandStartsShell(t *testing.T) {
	out, err := execCmd(t, "list\n")
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if !strings.HasPrefix(out, "Welcome to Data Forge") || !strings.Contains(out, "0 row(s)") {
		t.Fatalf("root output:\n%s", out)
	}
}

func TestCLI_ConfigSetShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "dataforge.yaml")
	runCmd(t, "config", "set", "head_rows", "9", "--config", path)
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(b), "head_rows: 9") {
		t.Fatalf("saved config:\n%s", b)
	}
	runCmd(t, "config", "set", "datasets.cars", "data/cars.csv", "--config", path)

	// Load it back the way the root command does.
	cfgFile = path
	loadConfig()
	t.Cleanup(shutdown)
	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	if err := configShowCmd.RunE(configShowCmd, nil); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"head_rows: 9\n", "datasets.cars: data/cars.csv\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("config show missing %q:\n%s", want, out.String())
		}
	}

	if _, err := execCmd(t, "", "config", "set", "head_rows", "many", "--config", path); err == nil {
		t.Fatalf("expected error for non-numeric head_rows")
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := [][]string{
		{"describe", filepath.Join(dir, "missing.csv")},
		{"describe", writeCars(t), "--agg", "mode"},
		{"head", writeCars(t), "-s", "-2"},
		{"schema", writeCars(t), "--format", "xml"},
		{"schema", "ftp://example.com/x.csv"},
	}
	for _, args := range cases {
		if _, err := execCmd(t, "", args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestParseLoad(t *testing.T) {
	cases := []struct {
		in         string
		name, conn string
		ok         bool
	}{
		{"cars=data/cars.csv", "cars", "data/cars.csv", true},
		{" pg = postgres://u@h/db?x=1 ", "pg", "postgres://u@h/db?x=1", true},
		{"cars", "", "", false},
		{"=x.csv", "", "", false},
		{"cars=", "", "", false},
	}
	for _, c := range cases {
		name, conn, err := parseLoad(c.in)
		if (err == nil) != c.ok || name != c.name || conn != c.conn {
			t.Errorf("parseLoad(%q) = %q, %q, %v", c.in, name, conn, err)
		}
	}
}
