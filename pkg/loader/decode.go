package loader

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"github.com/nicktill/ridership/pkg/ridership"
)

// timestampLayouts are tried in order. All keep the wall clock as written.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 03:04:05 PM",
	"1/2/2006 15:04",
	"1/2/06 15:04",
	time.DateOnly,
}

// fields holds the typed values of one row before validation.
type fields struct {
	StationComplex string  `col:"station_complex" validate:"required"`
	Borough        string  `col:"borough" validate:"required"`
	Ridership      float64 `col:"ridership" validate:"gte=0"`
	Latitude       float64 `col:"latitude" validate:"gte=-90,lte=90"`
	Longitude      float64 `col:"longitude" validate:"gte=-180,lte=180"`
}

// header maps column names to row positions.
type header map[string]int

func newHeader(row []string) (header, error) {
	h := make(header, len(row))
	for i, name := range row {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	for _, col := range ridership.RequiredColumns {
		if _, ok := h[col]; !ok {
			return nil, &ridership.DataFormatError{Column: col, Reason: "required column missing from header"}
		}
	}
	return h, nil
}

func (h header) value(row []string, column string) (string, bool) {
	idx, ok := h[column]
	if !ok || idx >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[idx])
	if v == "" || strings.EqualFold(v, "nan") {
		return "", false
	}
	return v, true
}

// decoder turns raw rows into records.
type decoder struct {
	header   header
	validate *validator.Validate
	// Excel stores dates as serial day numbers when a cell is date-typed
	allowSerial bool
}

func newDecoder(h header, format Format) *decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("col")
	})
	return &decoder{header: h, validate: v, allowSerial: format == FormatXLSX}
}

// decode parses one data row; line is the 1-based data row number.
func (d *decoder) decode(line int, row []string) (ridership.Record, error) {
	var rec ridership.Record

	raw, ok := d.header.value(row, ridership.ColumnTimestamp)
	if !ok {
		return rec, &ridership.DataFormatError{Row: line, Column: ridership.ColumnTimestamp, Reason: "missing timestamp"}
	}
	ts, err := d.parseTimestamp(raw)
	if err != nil {
		return rec, &ridership.DataFormatError{Row: line, Column: ridership.ColumnTimestamp, Value: raw, Reason: "unparseable timestamp"}
	}

	var f fields
	f.StationComplex, _ = d.header.value(row, ridership.ColumnStationComplex)
	f.Borough, _ = d.header.value(row, ridership.ColumnBorough)
	numbers := []struct {
		column string
		dst    *float64
	}{
		{ridership.ColumnRidership, &f.Ridership},
		{ridership.ColumnLatitude, &f.Latitude},
		{ridership.ColumnLongitude, &f.Longitude},
	}
	for _, n := range numbers {
		v, err := d.requiredNumber(line, row, n.column)
		if err != nil {
			return rec, err
		}
		*n.dst = v
	}

	if err := d.validate.Struct(f); err != nil {
		return rec, validationError(line, err)
	}

	rec = ridership.Record{
		Timestamp:      ts,
		Hour:           ts.Hour(),
		StationComplex: f.StationComplex,
		Borough:        f.Borough,
		Ridership:      f.Ridership,
		Latitude:       f.Latitude,
		Longitude:      f.Longitude,
	}

	if v, ok := d.header.value(row, ridership.ColumnPaymentMethod); ok {
		rec.PaymentMethod = ridership.Some(v)
	}
	if v, ok := d.header.value(row, ridership.ColumnFareClassCategory); ok {
		rec.FareClassCategory = ridership.Some(v)
	}
	if v, ok := d.header.value(row, ridership.ColumnDistanceToCentral); ok {
		dist, err := parseNumber(v)
		if err != nil {
			return rec, &ridership.DataFormatError{Row: line, Column: ridership.ColumnDistanceToCentral, Value: v, Reason: "not a number"}
		}
		rec.DistanceToCentral = ridership.Some(dist)
	}

	return rec, nil
}

func (d *decoder) requiredNumber(line int, row []string, column string) (float64, error) {
	raw, ok := d.header.value(row, column)
	if !ok {
		return 0, &ridership.DataFormatError{Row: line, Column: column, Reason: "missing value"}
	}
	v, err := parseNumber(raw)
	if err != nil {
		return 0, &ridership.DataFormatError{Row: line, Column: column, Value: raw, Reason: "not a number"}
	}
	return v, nil
}

func (d *decoder) parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	if d.allowSerial {
		if serial, err := strconv.ParseFloat(raw, 64); err == nil {
			return excelize.ExcelDateToTime(serial, false)
		}
	}
	return time.Time{}, errors.New("no layout matched")
}

// parseNumber accepts finite floats, with optional thousands separators.
func parseNumber(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not finite")
	}
	return v, nil
}

func validationError(line int, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ridership.DataFormatError{Row: line, Reason: err.Error()}
	}
	fe := verrs[0]
	reason := "failed " + fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return &ridership.DataFormatError{Row: line, Column: fe.Field(), Value: fmt.Sprint(fe.Value()), Reason: reason}
}
