package aggregate

import "github.com/nicktill/ridership/pkg/ridership"

// Centroid is the mean position of a set of records.
type Centroid struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Records   int     `json:"records"`
}

// CentroidOf averages latitude and longitude over the table, for marker
// placement. ok is false for an empty table.
func CentroidOf(t *ridership.Table) (c Centroid, ok bool) {
	var lat, lon float64
	for _, r := range t.All() {
		lat += r.Latitude
		lon += r.Longitude
		c.Records++
	}
	if c.Records == 0 {
		return Centroid{}, false
	}
	c.Latitude = lat / float64(c.Records)
	c.Longitude = lon / float64(c.Records)
	return c, true
}
