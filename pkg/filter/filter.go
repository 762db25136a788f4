package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/nicktill/ridership/pkg/ridership"
)

// Predicate selects records.
type Predicate func(ridership.Record) bool

// Apply returns a new table with the records accepted by every predicate.
// The input table is not modified. No predicates keeps every record.
func Apply(t *ridership.Table, preds ...Predicate) *ridership.Table {
	keep := make([]int, 0, t.Len())
	for i, r := range t.All() {
		if matchesAll(r, preds) {
			keep = append(keep, i)
		}
	}
	return t.Derive(keep)
}

func matchesAll(r ridership.Record, preds []Predicate) bool {
	for _, p := range preds {
		if !p(r) {
			return false
		}
	}
	return true
}

// DateRange accepts records whose calendar date lies in [start, end].
// Time of day is ignored on all three values.
func DateRange(start, end time.Time) (Predicate, error) {
	from, to := ridership.DayOf(start), ridership.DayOf(end)
	if from.After(to) {
		return nil, &ridership.RangeError{Start: from, End: to}
	}
	return func(r ridership.Record) bool {
		day := r.Day()
		return !day.Before(from) && !day.After(to)
	}, nil
}

// Equals accepts records whose categorical column equals value exactly.
// Records with a missing optional value never match.
func Equals(column, value string) (Predicate, error) {
	if !ridership.IsCategorical(column) {
		return nil, &ridership.DataFormatError{Column: column, Reason: "unknown categorical column"}
	}
	return func(r ridership.Record) bool {
		v, ok, _ := r.Category(column)
		return ok && v == value
	}, nil
}

// ByDateRange is the inclusive calendar-date filter.
func ByDateRange(t *ridership.Table, start, end time.Time) (*ridership.Table, error) {
	p, err := DateRange(start, end)
	if err != nil {
		return nil, err
	}
	return Apply(t, p), nil
}

// ByCategory is the exact, case-sensitive equality filter.
func ByCategory(t *ridership.Table, column, value string) (*ridership.Table, error) {
	p, err := Equals(column, value)
	if err != nil {
		return nil, err
	}
	return Apply(t, p), nil
}

// Criteria is a serializable conjunction of filters, used for queries and
// as part of cache keys.
type Criteria struct {
	Start  *time.Time        `json:"start,omitempty"`
	End    *time.Time        `json:"end,omitempty"`
	Equals map[string]string `json:"equals,omitempty"`
}

// Predicates compiles the criteria. An open-ended range bound is unbounded.
func (c Criteria) Predicates() ([]Predicate, error) {
	var preds []Predicate

	switch {
	case c.Start != nil && c.End != nil:
		p, err := DateRange(*c.Start, *c.End)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	case c.Start != nil:
		from := ridership.DayOf(*c.Start)
		preds = append(preds, func(r ridership.Record) bool { return !r.Day().Before(from) })
	case c.End != nil:
		to := ridership.DayOf(*c.End)
		preds = append(preds, func(r ridership.Record) bool { return !r.Day().After(to) })
	}

	for _, column := range c.columns() {
		p, err := Equals(column, c.Equals[column])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// Apply filters t by the criteria.
func (c Criteria) Apply(t *ridership.Table) (*ridership.Table, error) {
	preds, err := c.Predicates()
	if err != nil {
		return nil, err
	}
	return Apply(t, preds...), nil
}

// Key is a canonical encoding: criteria that select the same records by
// the same rules produce the same key regardless of map order.
func (c Criteria) Key() string {
	var b strings.Builder
	b.WriteString("start=")
	if c.Start != nil {
		b.WriteString(ridership.DayOf(*c.Start).Format(time.DateOnly))
	}
	b.WriteString(";end=")
	if c.End != nil {
		b.WriteString(ridership.DayOf(*c.End).Format(time.DateOnly))
	}
	for _, column := range c.columns() {
		b.WriteString(";")
		b.WriteString(column)
		b.WriteString("=")
		b.WriteString(escape(c.Equals[column]))
	}
	return b.String()
}

// With returns a copy of c with one more equality condition.
func (c Criteria) With(column, value string) Criteria {
	out := Criteria{Start: c.Start, End: c.End, Equals: make(map[string]string, len(c.Equals)+1)}
	for k, v := range c.Equals {
		out.Equals[k] = v
	}
	out.Equals[column] = value
	return out
}

func (c Criteria) columns() []string {
	cols := make([]string, 0, len(c.Equals))
	for k := range c.Equals {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func escape(v string) string {
	return strings.NewReplacer(`\`, `\\`, ";", `\;`, "=", `\=`).Replace(v)
}

// Distinct returns the values of a categorical column in order of first
// appearance. Missing optional values are skipped.
func Distinct(t *ridership.Table, column string) ([]string, error) {
	if !ridership.IsCategorical(column) {
		return nil, &ridership.DataFormatError{Column: column, Reason: "unknown categorical column"}
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.All() {
		v, ok, _ := r.Category(column)
		if ok && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}
