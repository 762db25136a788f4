package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/ridership/pkg/ridership"
)

// Granularity is a calendar bucket size.
type Granularity string

const (
	Day  Granularity = "day"
	Week Granularity = "week"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(name string) (Granularity, error) {
	switch g := Granularity(name); g {
	case Day, Week:
		return g, nil
	default:
		return "", fmt.Errorf("unsupported granularity %q (want day or week)", name)
	}
}

// bucketStart rounds a timestamp down to the start of its calendar bucket.
// Weeks start on Monday and are labelled by that Monday.
func (g Granularity) bucketStart(t time.Time) time.Time {
	if g == Week {
		return ridership.WeekOf(t)
	}
	return ridership.DayOf(t)
}

// Bucket is one calendar bucket of a resampled table.
type Bucket struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}

// Resample groups records into calendar buckets and reduces valueColumn
// with fn. Buckets are ascending and only buckets with at least one value
// are emitted; gaps are not zero-filled.
func Resample(t *ridership.Table, g Granularity, valueColumn string, fn AggFunc) ([]Bucket, error) {
	fn, err := checkInputs(valueColumn, fn)
	if err != nil {
		return nil, err
	}
	if _, err := ParseGranularity(string(g)); err != nil {
		return nil, err
	}

	buckets := make(map[time.Time]*accumulator)
	for _, r := range t.All() {
		v, ok, _ := r.Number(valueColumn)
		if !ok {
			continue
		}
		start := g.bucketStart(r.Timestamp)
		acc, exists := buckets[start]
		if !exists {
			acc = &accumulator{}
			buckets[start] = acc
		}
		acc.add(v)
	}

	return sortedBuckets(buckets, fn), nil
}

func sortedBuckets(buckets map[time.Time]*accumulator, fn AggFunc) []Bucket {
	out := make([]Bucket, 0, len(buckets))
	for start, acc := range buckets {
		out = append(out, Bucket{Start: start, Value: acc.result(fn), Count: acc.count})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// GroupSeries is the resampled series of one category value.
type GroupSeries struct {
	Key     GroupValue `json:"key"`
	Buckets []Bucket   `json:"buckets"`
}

// ResampleBy resamples each value of a categorical column separately
// (e.g. one daily series per station). Series follow the first appearance
// of their key in the table.
func ResampleBy(t *ridership.Table, groupColumn string, g Granularity, valueColumn string, fn AggFunc) ([]GroupSeries, error) {
	fn, err := checkInputs(valueColumn, fn)
	if err != nil {
		return nil, err
	}
	if _, err := ParseGranularity(string(g)); err != nil {
		return nil, err
	}
	if !ridership.IsCategorical(groupColumn) {
		return nil, &ridership.DataFormatError{Column: groupColumn, Reason: "unknown categorical column"}
	}

	var order []GroupValue
	groups := make(map[GroupValue]map[time.Time]*accumulator)
	for _, r := range t.All() {
		v, ok, _ := r.Number(valueColumn)
		if !ok {
			continue
		}
		key := categoryOf(r, groupColumn)
		buckets, exists := groups[key]
		if !exists {
			buckets = make(map[time.Time]*accumulator)
			groups[key] = buckets
			order = append(order, key)
		}
		start := g.bucketStart(r.Timestamp)
		acc, exists := buckets[start]
		if !exists {
			acc = &accumulator{}
			buckets[start] = acc
		}
		acc.add(v)
	}

	out := make([]GroupSeries, 0, len(order))
	for _, key := range order {
		out = append(out, GroupSeries{Key: key, Buckets: sortedBuckets(groups[key], fn)})
	}
	return out, nil
}

// HourValue is the aggregate for one hour of day across all dates.
type HourValue struct {
	Hour  int     `json:"hour"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// ByHourOfDay buckets records by their derived hour (0..23), independent of
// the calendar date. Only observed hours are returned, ascending.
func ByHourOfDay(t *ridership.Table, valueColumn string, fn AggFunc) ([]HourValue, error) {
	fn, err := checkInputs(valueColumn, fn)
	if err != nil {
		return nil, err
	}

	var hours [24]accumulator
	for _, r := range t.All() {
		v, ok, _ := r.Number(valueColumn)
		if !ok {
			continue
		}
		hours[r.Hour].add(v)
	}

	out := make([]HourValue, 0, 24)
	for h := range hours {
		if hours[h].count == 0 {
			continue
		}
		out = append(out, HourValue{Hour: h, Value: hours[h].result(fn), Count: hours[h].count})
	}
	return out, nil
}

// Dense expands an hourly aggregate to exactly 24 entries, filling
// unobserved hours with zero. Meant for bar displays; an empty input stays empty.
func Dense(hours []HourValue) []HourValue {
	if len(hours) == 0 {
		return []HourValue{}
	}
	out := make([]HourValue, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, hv := range hours {
		out[hv.Hour] = hv
	}
	return out
}
