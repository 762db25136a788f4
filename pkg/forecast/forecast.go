// Package forecast fits short-horizon daily ridership forecasts.
package forecast

import (
	"context"
	"time"
)

// Forecaster fits a model to a daily series.
type Forecaster interface {
	Fit(ctx context.Context, s Series) (Model, error)
}

// Model is a fitted forecast.
type Model interface {
	// Predict returns fitted values for every historical date followed by
	// exactly horizonDays future dates.
	Predict(horizonDays int) (*Result, error)
}

// Point is one day of a forecast. Historical points carry the observed value
// in Actual; future points have Future set.
type Point struct {
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
	Lower    float64   `json:"lower"`
	Upper    float64   `json:"upper"`
	Trend    float64   `json:"trend"`
	Seasonal float64   `json:"seasonal"`
	Actual   *float64  `json:"actual,omitempty"`
	Future   bool      `json:"future,omitempty"`
}

// Result is the output of Predict.
type Result struct {
	Points        []Point  `json:"points"`
	History       int      `json:"history"`
	Horizon       int      `json:"horizon"`
	IntervalWidth float64  `json:"interval_width"`
	Seasonalities []string `json:"seasonalities,omitempty"`
	Changepoints  int      `json:"changepoints"`
}

// Future returns only the points after the last observed date.
func (r *Result) Future() []Point {
	if r == nil || r.History >= len(r.Points) {
		return nil
	}
	return r.Points[r.History:]
}
