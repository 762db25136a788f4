// Package ridershiptest builds tables for tests.
package ridershiptest

import (
	"fmt"
	"strings"
	"time"

	"github.com/nicktill/ridership/pkg/ridership"
)

// Station coordinates used by the fixtures.
var Coordinates = map[string][2]float64{
	"Times Sq-42 St":     {40.7559, -73.9871},
	"Atlantic Av":        {40.6840, -73.9772},
	"Jamaica Center":     {40.7021, -73.8011},
	"Yankee Stadium":     {40.8270, -73.9257},
	"St George Terminal": {40.6437, -74.0736},
}

// Boroughs of the fixture stations.
var Boroughs = map[string]string{
	"Times Sq-42 St":     "Manhattan",
	"Atlantic Av":        "Brooklyn",
	"Jamaica Center":     "Queens",
	"Yankee Stadium":     "Bronx",
	"St George Terminal": "Staten Island",
}

// Record builds a record for a fixture station.
func Record(station string, ts time.Time, riders float64) ridership.Record {
	coord := Coordinates[station]
	return ridership.Record{
		Timestamp:      ts,
		Hour:           ts.Hour(),
		StationComplex: station,
		Borough:        Boroughs[station],
		Ridership:      riders,
		Latitude:       coord[0],
		Longitude:      coord[1],
	}
}

// WithPayment sets the optional payment and fare columns; empty strings stay missing.
func WithPayment(r ridership.Record, payment, fare string) ridership.Record {
	if payment != "" {
		r.PaymentMethod = ridership.Some(payment)
	}
	if fare != "" {
		r.FareClassCategory = ridership.Some(fare)
	}
	return r
}

// WithDistance sets the optional distance column.
func WithDistance(r ridership.Record, meters float64) ridership.Record {
	r.DistanceToCentral = ridership.Some(meters)
	return r
}

// Table wraps records in a table.
func Table(records ...ridership.Record) *ridership.Table {
	return ridership.NewTable("test", "v1", records)
}

// Date is midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ConstantDaily gives each station `days` days of ridership split across
// two hourly records (08:00 and 17:00) that sum to perDay.
func ConstantDaily(start time.Time, days int, perDay float64, stations ...string) *ridership.Table {
	var records []ridership.Record
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		for _, s := range stations {
			records = append(records,
				Record(s, day.Add(8*time.Hour), perDay*0.6),
				Record(s, day.Add(17*time.Hour), perDay*0.4),
			)
		}
	}
	return Table(records...)
}

// Mixed is a small table spanning two ISO weeks with varied hours, stations,
// payment methods and a missing fare class.
func Mixed() *ridership.Table {
	base := Date(2024, time.March, 1) // Friday
	var records []ridership.Record
	stations := []string{"Times Sq-42 St", "Atlantic Av", "Jamaica Center"}
	payments := []string{"omny", "metrocard"}
	fares := []string{"Full Fare", "Students", ""}
	for d := 0; d < 10; d++ {
		for i, s := range stations {
			hour := (d*5 + i*7) % 24
			r := Record(s, base.AddDate(0, 0, d).Add(time.Duration(hour)*time.Hour), float64(10*(d+1)+i))
			r = WithPayment(r, payments[(d+i)%2], fares[(d+i)%3])
			r = WithDistance(r, float64(500*(i+1)))
			records = append(records, r)
		}
	}
	return Table(records...)
}

// CSV renders records in the source column layout.
func CSV(records ...ridership.Record) string {
	var b strings.Builder
	b.WriteString(strings.Join([]string{
		ridership.ColumnTimestamp, ridership.ColumnStationComplex, ridership.ColumnBorough,
		ridership.ColumnRidership, ridership.ColumnLatitude, ridership.ColumnLongitude,
		ridership.ColumnPaymentMethod, ridership.ColumnFareClassCategory, ridership.ColumnDistanceToCentral,
	}, ","))
	b.WriteString("\n")
	for _, r := range records {
		payment, _ := r.PaymentMethod.Get()
		fare, _ := r.FareClassCategory.Get()
		dist := ""
		if v, ok := r.DistanceToCentral.Get(); ok {
			dist = fmt.Sprint(v)
		}
		fmt.Fprintf(&b, "%s,%s,%s,%v,%v,%v,%s,%s,%s\n",
			r.Timestamp.Format("2006-01-02T15:04:05"), r.StationComplex, r.Borough,
			r.Ridership, r.Latitude, r.Longitude, payment, fare, dist)
	}
	return b.String()
}
