package ridership

import (
	"iter"
	"time"
)

// Table is an ordered, read-only sequence of records.
// Filters and aggregations derive new values from a Table and never modify it.
type Table struct {
	records     []Record
	source      string
	fingerprint string
}

// NewTable builds a table that owns a copy of records. Hour is derived
// from each Timestamp, whatever the caller set.
func NewTable(source, fingerprint string, records []Record) *Table {
	owned := make([]Record, len(records))
	copy(owned, records)
	for i := range owned {
		owned[i].Hour = owned[i].Timestamp.Hour()
	}
	return &Table{records: owned, source: source, fingerprint: fingerprint}
}

// Derive returns a table holding the records at the given indexes, keeping
// this table's provenance.
func (t *Table) Derive(indexes []int) *Table {
	subset := make([]Record, len(indexes))
	for i, idx := range indexes {
		subset[i] = t.records[idx]
	}
	return &Table{records: subset, source: t.source, fingerprint: t.fingerprint}
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// At returns a copy of the i-th record.
func (t *Table) At(i int) Record {
	return t.records[i]
}

// All iterates over (index, record copy) pairs in table order.
func (t *Table) All() iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		if t == nil {
			return
		}
		for i, r := range t.records {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Source identifies the data source the table was loaded from.
func (t *Table) Source() string {
	return t.source
}

// Fingerprint identifies the content version the table was loaded from.
func (t *Table) Fingerprint() string {
	return t.fingerprint
}

// TotalRidership sums the ridership column.
func (t *Table) TotalRidership() float64 {
	total := 0.0
	for _, r := range t.All() {
		total += r.Ridership
	}
	return total
}

// DateRange returns the first and last calendar dates present.
// ok is false for an empty table.
func (t *Table) DateRange() (first, last time.Time, ok bool) {
	for _, r := range t.All() {
		day := r.Day()
		if !ok || day.Before(first) {
			first = day
		}
		if !ok || day.After(last) {
			last = day
		}
		ok = true
	}
	return first, last, ok
}
