package describe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type aggKind int

const (
	kindCount aggKind = iota
	kindNullCount
	kindMean
	kindStdDev
	kindMin
	kindMax
	kindMedian
	kindPercentile
)

// Aggregator is one statistic computed for every column. The zero value is Count.
type Aggregator struct {
	kind aggKind
	p    uint8
}

var (
	Count     = Aggregator{kind: kindCount}
	NullCount = Aggregator{kind: kindNullCount}
	Mean      = Aggregator{kind: kindMean}
	StdDev    = Aggregator{kind: kindStdDev}
	Min       = Aggregator{kind: kindMin}
	Max       = Aggregator{kind: kindMax}
	Median    = Aggregator{kind: kindMedian}
)

// Percentile returns the aggregator for the p-th percentile, 0 <= p <= 100.
func Percentile(p int) (Aggregator, error) {
	if p < 0 || p > 100 {
		return Aggregator{}, configErrorf("percentile must be between 0 and 100, got %d", p)
	}
	return Aggregator{kind: kindPercentile, p: uint8(p)}, nil
}

// DefaultAggregators is the set used when none is configured.
func DefaultAggregators() []Aggregator {
	p25, _ := Percentile(25)
	return []Aggregator{Count, NullCount, Mean, StdDev, Min, Max, Median, p25}
}

// String is the display name used as the row label.
func (a Aggregator) String() string {
	switch a.kind {
	case kindCount:
		return "count"
	case kindNullCount:
		return "null_count"
	case kindMean:
		return "mean"
	case kindStdDev:
		return "stddev"
	case kindMin:
		return "min"
	case kindMax:
		return "max"
	case kindMedian:
		return "median"
	default:
		return fmt.Sprintf("percentile(%d)", a.p)
	}
}

// AppliesTo reports whether the aggregator is defined for the original field.
// Min and Max are undefined for boolean and binary columns.
func (a Aggregator) AppliesTo(f engine.Field) bool {
	switch a.kind {
	case kindMin, kindMax:
		return f.Type.Kind != engine.KindBoolean && f.Type.Kind != engine.KindBinary
	}
	return true
}

// expr is the aggregate over a transformed column.
func (a Aggregator) expr(column string) engine.Expr {
	col := engine.Col(column)
	var e engine.Expr
	switch a.kind {
	case kindCount:
		e = engine.Count(col)
	case kindNullCount:
		e = engine.Sum(engine.Case().When(engine.IsNull(col), engine.Lit(1)).Otherwise(engine.Lit(0)))
	case kindMean:
		e = engine.Avg(col)
	case kindStdDev:
		e = engine.StdDev(col)
	case kindMin:
		e = engine.Min(col)
	case kindMax:
		e = engine.Max(col)
	case kindMedian:
		e = engine.Median(col)
	default:
		e = engine.ApproxPercentileCont(col, float64(a.p)/100.0)
	}
	return engine.Alias(e, column)
}

// ParseAggregator accepts a display name such as "mean" or "percentile(90)".
// Names are case-insensitive; "nullcount", "std" and "pNN" are accepted too.
func ParseAggregator(s string) (Aggregator, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "count":
		return Count, nil
	case "null_count", "nullcount", "nulls":
		return NullCount, nil
	case "mean", "avg":
		return Mean, nil
	case "stddev", "std":
		return StdDev, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	case "median":
		return Median, nil
	}
	var arg string
	switch {
	case strings.HasPrefix(name, "percentile(") && strings.HasSuffix(name, ")"):
		arg = strings.TrimSuffix(strings.TrimPrefix(name, "percentile("), ")")
	case strings.HasPrefix(name, "p") && len(name) > 1:
		arg = name[1:]
	default:
		return Aggregator{}, configErrorf("unknown aggregator %q", s)
	}
	p, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return Aggregator{}, configErrorf("invalid percentile %q", s)
	}
	return Percentile(p)
}

// ParseAggregators parses a list of names, keeping their order. Entries may
// themselves be comma-separated.
func ParseAggregators(names []string) ([]Aggregator, error) {
	var out []Aggregator
	for _, n := range names {
		for _, part := range splitAggregatorList(n) {
			a, err := ParseAggregator(part)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// splitAggregatorList splits on commas outside parentheses.
func splitAggregatorList(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	parts := out[:0]
	for _, p := range out {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
