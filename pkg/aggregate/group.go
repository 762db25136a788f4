package aggregate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nicktill/ridership/pkg/ridership"
)

// GroupValue is one component of a group key. A missing optional value is
// its own category rather than being dropped.
type GroupValue struct {
	Value   string `json:"value"`
	Missing bool   `json:"missing,omitempty"`
}

// Present makes a key component for an observed value.
func Present(v string) GroupValue { return GroupValue{Value: v} }

// Absent is the key component for a missing value.
func Absent() GroupValue { return GroupValue{Missing: true} }

func (g GroupValue) String() string {
	if g.Missing {
		return "(missing)"
	}
	return g.Value
}

func less(a, b GroupValue) bool {
	if a.Missing != b.Missing {
		return a.Missing
	}
	return a.Value < b.Value
}

func categoryOf(r ridership.Record, column string) GroupValue {
	v, ok, _ := r.Category(column)
	if !ok {
		return Absent()
	}
	return Present(v)
}

// Group is one cell of a multi-key breakdown.
type Group struct {
	Key   []GroupValue `json:"key"`
	Value float64      `json:"value"`
	Count int          `json:"count"`
}

// Grouped is a multi-key aggregate. Groups are sorted by key, component by
// component, with missing values first.
type Grouped struct {
	Columns []string `json:"columns"`
	Groups  []Group  `json:"groups"`

	index map[string]int
}

// Lookup returns the group with exactly this key.
func (g *Grouped) Lookup(key ...GroupValue) (Group, bool) {
	if g == nil || g.index == nil {
		return Group{}, false
	}
	i, ok := g.index[encodeKey(key)]
	if !ok {
		return Group{}, false
	}
	return g.Groups[i], true
}

// MultiKey groups records by the tuple of groupCols values and reduces
// valueColumn with fn (e.g. payment method x fare class).
func MultiKey(t *ridership.Table, groupCols []string, valueColumn string, fn AggFunc) (*Grouped, error) {
	fn, err := checkInputs(valueColumn, fn)
	if err != nil {
		return nil, err
	}
	if len(groupCols) == 0 {
		return nil, &ridership.DataFormatError{Reason: "at least one group column is required"}
	}
	for _, col := range groupCols {
		if !ridership.IsCategorical(col) {
			return nil, &ridership.DataFormatError{Column: col, Reason: "unknown categorical column"}
		}
	}

	type cell struct {
		key []GroupValue
		acc accumulator
	}
	cells := make(map[string]*cell)
	for _, r := range t.All() {
		v, ok, _ := r.Number(valueColumn)
		if !ok {
			continue
		}
		key := make([]GroupValue, len(groupCols))
		for i, col := range groupCols {
			key[i] = categoryOf(r, col)
		}
		enc := encodeKey(key)
		c, exists := cells[enc]
		if !exists {
			c = &cell{key: key}
			cells[enc] = c
		}
		c.acc.add(v)
	}

	groups := make([]Group, 0, len(cells))
	for _, c := range cells {
		groups = append(groups, Group{Key: c.key, Value: c.acc.result(fn), Count: c.acc.count})
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Key, groups[j].Key
		for k := range a {
			if a[k] != b[k] {
				return less(a[k], b[k])
			}
		}
		return false
	})

	out := &Grouped{
		Columns: append([]string(nil), groupCols...),
		Groups:  groups,
		index:   make(map[string]int, len(groups)),
	}
	for i, g := range groups {
		out.index[encodeKey(g.Key)] = i
	}
	return out, nil
}

// encodeKey is injective: each component is tagged as missing or present
// and values are length-prefixed.
func encodeKey(key []GroupValue) string {
	var b strings.Builder
	for _, k := range key {
		if k.Missing {
			b.WriteString("-|")
			continue
		}
		b.WriteString("+")
		b.WriteString(strconv.Itoa(len(k.Value)))
		b.WriteString(":")
		b.WriteString(k.Value)
		b.WriteString("|")
	}
	return b.String()
}
