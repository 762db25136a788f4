package export

import (
	"time"

	"github.com/nicktill/ridership/pkg/aggregate"
	"github.com/nicktill/ridership/pkg/forecast"
	"github.com/nicktill/ridership/pkg/ridership"
)

func date(t time.Time) string { return t.Format(time.DateOnly) }

func groupCell(g aggregate.GroupValue) any {
	if g.Missing {
		return nil
	}
	return g.Value
}

// FromHours flattens an hour-of-day aggregate.
func FromHours(hours []aggregate.HourValue) Dataset {
	ds := Dataset{Kind: "hourly", Columns: []string{ridership.ColumnHour, "ridership", "records"}}
	for _, h := range hours {
		ds.Rows = append(ds.Rows, []any{h.Hour, h.Value, h.Count})
	}
	return ds
}

// FromBuckets flattens a daily or weekly series; kind names it.
func FromBuckets(kind string, buckets []aggregate.Bucket) Dataset {
	ds := Dataset{Kind: kind, Columns: []string{"date", "ridership", "records"}}
	for _, b := range buckets {
		ds.Rows = append(ds.Rows, []any{date(b.Start), b.Value, b.Count})
	}
	return ds
}

// FromGrouped flattens a multi-key breakdown, one column per key column.
// Missing key values are empty cells.
func FromGrouped(g *aggregate.Grouped) Dataset {
	ds := Dataset{Kind: "breakdown"}
	ds.Columns = append(append(ds.Columns, g.Columns...), "ridership", "records")
	for _, grp := range g.Groups {
		row := make([]any, 0, len(ds.Columns))
		for _, k := range grp.Key {
			row = append(row, groupCell(k))
		}
		ds.Rows = append(ds.Rows, append(row, grp.Value, grp.Count))
	}
	return ds
}

// FromSeries flattens per-group daily series into long format.
func FromSeries(groupColumn string, series []aggregate.GroupSeries) Dataset {
	ds := Dataset{Kind: "trends", Columns: []string{groupColumn, "date", "ridership", "records"}}
	for _, s := range series {
		for _, b := range s.Buckets {
			ds.Rows = append(ds.Rows, []any{groupCell(s.Key), date(b.Start), b.Value, b.Count})
		}
	}
	return ds
}

// FromScatter flattens scatter points.
func FromScatter(points []aggregate.ScatterPoint) Dataset {
	ds := Dataset{Kind: "scatter", Columns: []string{
		ridership.ColumnStationComplex, ridership.ColumnBorough, ridership.ColumnDistanceToCentral, "ridership",
	}}
	for _, p := range points {
		ds.Rows = append(ds.Rows, []any{p.Station, p.Borough, p.Distance, p.Ridership})
	}
	return ds
}

// FromSummaries flattens borough (or other category) summaries.
func FromSummaries(column string, summaries []aggregate.Summary) Dataset {
	ds := Dataset{Kind: "boroughs", Columns: []string{column, "stations", "records", "ridership"}}
	for _, s := range summaries {
		ds.Rows = append(ds.Rows, []any{groupCell(s.Key), s.Stations, s.Records, s.Ridership})
	}
	return ds
}

// FromForecast flattens a forecast; actual is empty for future dates.
func FromForecast(res *forecast.Result) Dataset {
	ds := Dataset{Kind: "forecast", Columns: []string{
		"date", "forecast", "lower", "upper", "trend", "seasonal", "actual", "future",
	}}
	for _, p := range res.Points {
		var actual any
		if p.Actual != nil {
			actual = *p.Actual
		}
		ds.Rows = append(ds.Rows, []any{
			date(p.Date), p.Value, p.Lower, p.Upper, p.Trend, p.Seasonal, actual, p.Future,
		})
	}
	return ds
}
