package aggregate

import "github.com/nicktill/ridership/pkg/ridership"

// Summary describes one value of a categorical column, e.g. a borough tab.
type Summary struct {
	Key       GroupValue `json:"key"`
	Stations  int        `json:"stations"`
	Records   int        `json:"records"`
	Ridership float64    `json:"ridership"`
}

// Summarize counts distinct stations, records and total ridership per value
// of groupColumn, in order of first appearance.
func Summarize(t *ridership.Table, groupColumn string) ([]Summary, error) {
	if !ridership.IsCategorical(groupColumn) {
		return nil, &ridership.DataFormatError{Column: groupColumn, Reason: "unknown categorical column"}
	}

	var order []GroupValue
	sums := make(map[GroupValue]*Summary)
	stations := make(map[GroupValue]map[string]bool)
	for _, r := range t.All() {
		key := categoryOf(r, groupColumn)
		s, ok := sums[key]
		if !ok {
			s = &Summary{Key: key}
			sums[key] = s
			stations[key] = make(map[string]bool)
			order = append(order, key)
		}
		s.Records++
		s.Ridership += r.Ridership
		stations[key][r.StationComplex] = true
	}

	out := make([]Summary, 0, len(order))
	for _, key := range order {
		s := sums[key]
		s.Stations = len(stations[key])
		out = append(out, *s)
	}
	return out, nil
}
