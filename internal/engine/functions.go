package engine

import (
	"database/sql/driver"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"modernc.org/sqlite"
)

const (
	fnStdDev     = "df_stddev"
	fnMedian     = "df_median"
	fnPercentile = "df_approx_percentile_cont"
)

func init() {
	register := func(name string, nargs int32, final func(vals []float64, frac float64) driver.Value) {
		err := sqlite.RegisterFunction(name, &sqlite.FunctionImpl{
			NArgs:         nargs,
			Deterministic: true,
			MakeAggregate: func(sqlite.FunctionContext) (sqlite.AggregateFunction, error) {
				return &floatAgg{name: name, final: final, frac: math.NaN()}, nil
			},
		})
		if err != nil {
			panic(fmt.Sprintf("register %s: %v", name, err))
		}
	}
	register(fnStdDev, 1, func(vals []float64, _ float64) driver.Value {
		if len(vals) < 2 {
			return nil
		}
		return stat.StdDev(vals, nil)
	})
	register(fnMedian, 1, func(vals []float64, _ float64) driver.Value {
		return quantileOf(vals, 0.5)
	})
	register(fnPercentile, 2, func(vals []float64, frac float64) driver.Value {
		return quantileOf(vals, frac)
	})
}

// floatAgg buffers the non-null inputs of one aggregate invocation.
type floatAgg struct {
	name  string
	vals  []float64
	frac  float64
	final func(vals []float64, frac float64) driver.Value
}

func (a *floatAgg) Step(_ *sqlite.FunctionContext, args []driver.Value) error {
	if len(args) > 1 && math.IsNaN(a.frac) {
		f, err := toFloat64(args[1])
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("%s: fraction must be a number within [0, 1], got %v", a.name, args[1])
		}
		a.frac = f
	}
	if args[0] == nil {
		return nil
	}
	f, err := toFloat64(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	a.vals = append(a.vals, f)
	return nil
}

func (a *floatAgg) WindowInverse(_ *sqlite.FunctionContext, args []driver.Value) error {
	if args[0] == nil {
		return nil
	}
	f, err := toFloat64(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	for i, v := range a.vals {
		if v == f {
			a.vals = append(a.vals[:i], a.vals[i+1:]...)
			break
		}
	}
	return nil
}

func (a *floatAgg) WindowValue(*sqlite.FunctionContext) (driver.Value, error) {
	if len(a.vals) == 0 {
		return nil, nil
	}
	return a.final(a.vals, a.frac), nil
}

func (a *floatAgg) Final(*sqlite.FunctionContext) {}

func quantileOf(vals []float64, q float64) driver.Value {
	if len(vals) == 0 {
		return nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return quantile(sorted, q)
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
