package ridership

import "time"

// Column names as they appear in the source data.
const (
	ColumnTimestamp         = "transit_timestamp"
	ColumnStationComplex    = "station_complex"
	ColumnBorough           = "borough"
	ColumnRidership         = "ridership"
	ColumnLatitude          = "latitude"
	ColumnLongitude         = "longitude"
	ColumnPaymentMethod     = "payment_method"
	ColumnFareClassCategory = "fare_class_category"
	ColumnDistanceToCentral = "distance_to_central"

	// ColumnHour is derived from the timestamp at load time.
	ColumnHour = "hour"
)

// RequiredColumns must be present in every source header.
var RequiredColumns = []string{
	ColumnTimestamp,
	ColumnStationComplex,
	ColumnBorough,
	ColumnRidership,
	ColumnLatitude,
	ColumnLongitude,
}

// Record is a single ridership event.
// Optional fields are unset when the source left them empty.
type Record struct {
	Timestamp         time.Time         `json:"transit_timestamp"`
	Hour              int               `json:"hour"`
	StationComplex    string            `json:"station_complex"`
	Borough           string            `json:"borough"`
	Ridership         float64           `json:"ridership"`
	Latitude          float64           `json:"latitude"`
	Longitude         float64           `json:"longitude"`
	PaymentMethod     Optional[string]  `json:"payment_method"`
	FareClassCategory Optional[string]  `json:"fare_class_category"`
	DistanceToCentral Optional[float64] `json:"distance_to_central"`
}

// Day returns the calendar date of the record's wall-clock timestamp.
func (r Record) Day() time.Time {
	return DayOf(r.Timestamp)
}

// Category returns the value of a categorical column.
// ok is false when the column is optional and missing for this record.
func (r Record) Category(column string) (value string, ok bool, err error) {
	switch column {
	case ColumnStationComplex:
		return r.StationComplex, true, nil
	case ColumnBorough:
		return r.Borough, true, nil
	case ColumnPaymentMethod:
		v, ok := r.PaymentMethod.Get()
		return v, ok, nil
	case ColumnFareClassCategory:
		v, ok := r.FareClassCategory.Get()
		return v, ok, nil
	default:
		return "", false, &DataFormatError{Column: column, Reason: "unknown categorical column"}
	}
}

// Number returns the value of a numeric column.
// ok is false when the column is optional and missing for this record.
func (r Record) Number(column string) (value float64, ok bool, err error) {
	switch column {
	case ColumnRidership:
		return r.Ridership, true, nil
	case ColumnLatitude:
		return r.Latitude, true, nil
	case ColumnLongitude:
		return r.Longitude, true, nil
	case ColumnHour:
		return float64(r.Hour), true, nil
	case ColumnDistanceToCentral:
		v, ok := r.DistanceToCentral.Get()
		return v, ok, nil
	default:
		return 0, false, &DataFormatError{Column: column, Reason: "unknown numeric column"}
	}
}

// IsCategorical reports whether column can be used for equality filters and grouping.
func IsCategorical(column string) bool {
	switch column {
	case ColumnStationComplex, ColumnBorough, ColumnPaymentMethod, ColumnFareClassCategory:
		return true
	}
	return false
}

// IsNumeric reports whether column can be aggregated.
func IsNumeric(column string) bool {
	switch column {
	case ColumnRidership, ColumnLatitude, ColumnLongitude, ColumnHour, ColumnDistanceToCentral:
		return true
	}
	return false
}

// DayOf truncates t to midnight of its wall-clock date, in UTC.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekOf returns the Monday that starts t's ISO week.
func WeekOf(t time.Time) time.Time {
	day := DayOf(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}
