// Package render prints materialized tables as a bordered text table, CSV,
// JSON, YAML or Markdown. Nulls render as "null" in every format.
package render

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

// Format names an output format.
type Format string

const (
	Table    Format = "table"
	CSV      Format = "csv"
	JSON     Format = "json"
	YAML     Format = "yaml"
	Markdown Format = "markdown"
)

// ParseFormat accepts a format name; "md" and "yml" are aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return Table, nil
	case "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return "", fmt.Errorf("unknown output format %q (use table, csv, json, yaml or markdown)", s)
}

// Write renders t to w in format f.
func Write(w io.Writer, t *engine.Table, f Format) error {
	if t == nil {
		t = &engine.Table{}
	}
	switch f {
	case "", Table:
		return writeTable(w, t)
	case CSV:
		return writeCSV(w, t)
	case JSON:
		return writeJSON(w, t)
	case YAML:
		return writeYAML(w, t)
	case Markdown:
		return writeMarkdown(w, t)
	}
	return fmt.Errorf("unknown output format %q", f)
}

// String renders t to a string.
func String(t *engine.Table, f Format) (string, error) {
	var b strings.Builder
	if err := Write(&b, t, f); err != nil {
		return "", err
	}
	return b.String(), nil
}

// FormatValue renders one cell as text.
func FormatValue(v any, dt engine.DataType) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return formatFloat(x)
	case time.Time:
		return formatTime(x, dt)
	case []byte:
		return "0x" + fmt.Sprintf("%x", x)
	case []any, map[string]any:
		b, err := json.Marshal(jsonValue(x, dt))
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if a := math.Abs(f); a != 0 && (a >= 1e15 || a < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatTime(t time.Time, dt engine.DataType) string {
	t = t.UTC()
	if dt.Kind == engine.KindDate32 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02T15:04:05.999999999")
}

// jsonValue converts a cell to something encoding/json and yaml.v3 print the
// way the text formats do.
func jsonValue(v any, dt engine.DataType) any {
	switch x := v.(type) {
	case nil, string, bool, int64, uint64:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return formatFloat(x)
		}
		return x
	case time.Time:
		return formatTime(x, dt)
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case []any:
		elem := engine.Null
		if dt.Kind == engine.KindList && dt.Elem != nil {
			elem = *dt.Elem
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e, elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e, engine.Null)
		}
		return out
	}
	return v
}

func cells(t *engine.Table) [][]string {
	out := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		line := make([]string, len(t.Schema))
		for c, f := range t.Schema {
			if c < len(row) {
				line[c] = FormatValue(row[c], f.Type)
			} else {
				line[c] = "null"
			}
		}
		out[r] = line
	}
	return out
}

// displayWidth counts terminal columns; wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(s)
}

func writeTable(w io.Writer, t *engine.Table) error {
	header := t.Schema.Names()
	body := cells(t)
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = displayWidth(h)
	}
	for _, row := range body {
		for i, v := range row {
			row[i] = oneLine(v)
			widths[i] = max(widths[i], displayWidth(row[i]))
		}
	}

	var b strings.Builder
	rule := func() {
		b.WriteString("+")
		for _, wd := range widths {
			b.WriteString(strings.Repeat("-", wd+2))
			b.WriteString("+")
		}
		b.WriteString("\n")
	}
	line := func(vals []string) {
		b.WriteString("|")
		for i, v := range vals {
			b.WriteString(" ")
			b.WriteString(v)
			b.WriteString(strings.Repeat(" ", widths[i]-displayWidth(v)+1))
			b.WriteString("|")
		}
		b.WriteString("\n")
	}
	if len(header) > 0 {
		rule()
		line(header)
		rule()
		for _, row := range body {
			line(row)
		}
		rule()
	}
	fmt.Fprintf(&b, "%d row(s)\n", len(body))
	_, err := io.WriteString(w, b.String())
	return err
}

func writeCSV(w io.Writer, t *engine.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Schema.Names()); err != nil {
		return err
	}
	if err := cw.WriteAll(cells(t)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, t *engine.Table) error {
	var b strings.Builder
	b.WriteString("[")
	for r, row := range t.Rows {
		if r > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n  {")
		for c, f := range t.Schema {
			if c > 0 {
				b.WriteString(", ")
			}
			k, _ := json.Marshal(f.Name)
			var v any
			if c < len(row) {
				v = jsonValue(row[c], f.Type)
			}
			enc, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode %s: %w", f.Name, err)
			}
			b.Write(k)
			b.WriteString(": ")
			b.Write(enc)
		}
		b.WriteString("}")
	}
	if len(t.Rows) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("]\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeYAML(w io.Writer, t *engine.Table) error {
	doc := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range t.Rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for c, f := range t.Schema {
			var v any
			if c < len(row) {
				v = jsonValue(row[c], f.Type)
			}
			val := &yaml.Node{}
			if err := val.Encode(v); err != nil {
				return fmt.Errorf("encode %s: %w", f.Name, err)
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Name}, val)
		}
		doc.Content = append(doc.Content, m)
	}
	if len(doc.Content) == 0 {
		doc.Style = yaml.FlowStyle
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}
	return enc.Close()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(oneLine(s), "|", "\\|") }

func writeMarkdown(w io.Writer, t *engine.Table) error {
	var b strings.Builder
	b.WriteString("| ")
	for i, f := range t.Schema {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(safeVal(safeName(f.Name)))
	}
	b.WriteString(" |\n")
	b.WriteString("| ")
	for i := range t.Schema {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString("---")
	}
	b.WriteString(" |\n")
	for _, row := range cells(t) {
		b.WriteString("| ")
		for i, val := range row {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(safeVal(val))
		}
		b.WriteString(" |\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
