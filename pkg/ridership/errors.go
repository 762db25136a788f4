package ridership

import (
	"fmt"
	"time"
)

// DataFormatError reports a missing or unparseable field, or a reference
// to a column that does not exist.
type DataFormatError struct {
	Row    int // 1-based data row, 0 when not row specific
	Column string
	Value  string
	Reason string
}

func (e *DataFormatError) Error() string {
	switch {
	case e.Row > 0 && e.Value != "":
		return fmt.Sprintf("data format: row %d column %q value %q: %s", e.Row, e.Column, e.Value, e.Reason)
	case e.Row > 0:
		return fmt.Sprintf("data format: row %d column %q: %s", e.Row, e.Column, e.Reason)
	default:
		return fmt.Sprintf("data format: column %q: %s", e.Column, e.Reason)
	}
}

// RangeError reports a date range whose start is after its end.
type RangeError struct {
	Start time.Time
	End   time.Time
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid date range: start %s is after end %s",
		e.Start.Format(time.DateOnly), e.End.Format(time.DateOnly))
}

// ForecastError reports insufficient history or a fit that could not be solved.
type ForecastError struct {
	Reason string
	Err    error
}

func (e *ForecastError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("forecast: %s: %v", e.Reason, e.Err)
	}
	return "forecast: " + e.Reason
}

func (e *ForecastError) Unwrap() error {
	return e.Err
}
