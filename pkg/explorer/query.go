package explorer

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/ridership/pkg/ridership"
)

// ParseQuery reads a query from URL parameters:
//
//	source   registered source name (default source when empty)
//	start    first date, YYYY-MM-DD
//	end      last date, YYYY-MM-DD
//	station  station_complex equality
//	borough  borough equality
//	where    column:value equality, repeatable
func ParseQuery(values url.Values) (Query, error) {
	q := Query{Source: values.Get("source")}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"start", &q.Criteria.Start},
		{"end", &q.Criteria.End},
	} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return Query{}, &ridership.DataFormatError{Column: p.name, Value: raw, Reason: "want a date as YYYY-MM-DD"}
		}
		*p.dst = &d
	}

	equals := make(map[string]string)
	if v := values.Get("station"); v != "" {
		equals[ridership.ColumnStationComplex] = v
	}
	if v := values.Get("borough"); v != "" {
		equals[ridership.ColumnBorough] = v
	}
	for _, w := range values["where"] {
		column, value, ok := strings.Cut(w, ":")
		if !ok || column == "" {
			return Query{}, &ridership.DataFormatError{Column: "where", Value: w, Reason: "want column:value"}
		}
		if !ridership.IsCategorical(column) {
			return Query{}, &ridership.DataFormatError{Column: column, Reason: "unknown categorical column"}
		}
		equals[column] = value
	}
	if len(equals) > 0 {
		q.Criteria.Equals = equals
	}
	return q, nil
}

// IntParam reads an optional integer parameter; missing means def.
func IntParam(values url.Values, name string, def int) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ridership.DataFormatError{Column: name, Value: raw, Reason: "want an integer"}
	}
	return n, nil
}

// ListParam splits a comma separated parameter, dropping empty items.
func ListParam(values url.Values, name string) []string {
	var out []string
	for _, v := range values[name] {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// SeedParam reads the optional scatter seed; nil means the configured seed.
func SeedParam(values url.Values) (*uint64, error) {
	raw := values.Get("seed")
	if raw == "" {
		return nil, nil
	}
	seed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, &ridership.DataFormatError{Column: "seed", Value: raw, Reason: "want a non-negative integer"}
	}
	return &seed, nil
}
