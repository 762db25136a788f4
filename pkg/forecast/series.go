package forecast

import (
	"time"

	"github.com/nicktill/ridership/pkg/aggregate"
	"github.com/nicktill/ridership/pkg/ridership"
)

// Observation is the total ridership of one calendar day.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a daily history, strictly increasing by date.
// Days without records are absent, not zero.
type Series []Observation

// PrepareSeries sums ridership per calendar day. Only days with at least one
// record appear, so the series is never longer than the number of distinct days.
func PrepareSeries(t *ridership.Table) Series {
	// Fixed column and function; Resample cannot reject them.
	buckets, _ := aggregate.Resample(t, aggregate.Day, ridership.ColumnRidership, aggregate.Sum)
	s := make(Series, len(buckets))
	for i, b := range buckets {
		s[i] = Observation{Date: b.Start, Value: b.Value}
	}
	return s
}

// Last returns the final observation. ok is false for an empty series.
func (s Series) Last() (Observation, bool) {
	if len(s) == 0 {
		return Observation{}, false
	}
	return s[len(s)-1], true
}

// SpanDays is the number of days between the first and last observation.
func (s Series) SpanDays() float64 {
	if len(s) < 2 {
		return 0
	}
	return daysBetween(s[0].Date, s[len(s)-1].Date)
}

func (s Series) validate() error {
	if len(s) < 2 {
		return &ridership.ForecastError{Reason: "at least two observed days are required"}
	}
	for i := 1; i < len(s); i++ {
		if !s[i].Date.After(s[i-1].Date) {
			return &ridership.ForecastError{Reason: "series dates must be strictly increasing"}
		}
	}
	return nil
}

func daysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}
