package aggregate

import (
	"fmt"
	"math"

	"github.com/nicktill/ridership/pkg/ridership"
)

// AggFunc reduces the values that fall into one bucket.
type AggFunc string

const (
	Sum   AggFunc = "sum"
	Mean  AggFunc = "mean"
	Count AggFunc = "count"
	Min   AggFunc = "min"
	Max   AggFunc = "max"
)

// ParseAggFunc validates a function name; empty means Sum.
func ParseAggFunc(name string) (AggFunc, error) {
	switch fn := AggFunc(name); fn {
	case "":
		return Sum, nil
	case Sum, Mean, Count, Min, Max:
		return fn, nil
	default:
		return "", fmt.Errorf("unsupported aggregation function %q (want sum, mean, count, min or max)", name)
	}
}

// accumulator keeps enough state to produce any AggFunc.
// Storing sum and count (not a running mean) keeps Sum exact across buckets.
type accumulator struct {
	sum   float64
	count int
	min   float64
	max   float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.sum += v
	a.count++
}

func (a *accumulator) result(fn AggFunc) float64 {
	switch fn {
	case Mean:
		return a.sum / float64(a.count)
	case Count:
		return float64(a.count)
	case Min:
		return a.min
	case Max:
		return a.max
	default:
		return a.sum
	}
}

// checkInputs validates the value column and function before any work is done.
func checkInputs(valueColumn string, fn AggFunc) (AggFunc, error) {
	if !ridership.IsNumeric(valueColumn) {
		return "", &ridership.DataFormatError{Column: valueColumn, Reason: "unknown numeric column"}
	}
	return ParseAggFunc(string(fn))
}
