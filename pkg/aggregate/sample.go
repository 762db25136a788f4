package aggregate

import (
	"math/rand/v2"
	"sort"

	"github.com/nicktill/ridership/pkg/ridership"
)

// ScatterPoint is one point of the ridership vs distance scatter.
type ScatterPoint struct {
	Distance  float64 `json:"distance_to_central"`
	Ridership float64 `json:"ridership"`
	Borough   string  `json:"borough"`
	Station   string  `json:"station_complex"`
}

// Sample draws at most n scatter points without replacement.
//
// Records without a distance are not eligible. The draw is a partial
// Fisher-Yates shuffle driven by a PCG generator seeded with seed, so the
// same table, n and seed always give the same points. Points are returned
// in table order. When n covers every eligible record all of them are returned.
func Sample(t *ridership.Table, n int, seed uint64) []ScatterPoint {
	if n <= 0 {
		return []ScatterPoint{}
	}

	eligible := make([]int, 0, t.Len())
	for i, r := range t.All() {
		if r.DistanceToCentral.IsSet() {
			eligible = append(eligible, i)
		}
	}

	if n < len(eligible) {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		for i := 0; i < n; i++ {
			j := i + rng.IntN(len(eligible)-i)
			eligible[i], eligible[j] = eligible[j], eligible[i]
		}
		eligible = eligible[:n]
		sort.Ints(eligible)
	}

	out := make([]ScatterPoint, len(eligible))
	for i, idx := range eligible {
		r := t.At(idx)
		dist, _ := r.DistanceToCentral.Get()
		out[i] = ScatterPoint{
			Distance:  dist,
			Ridership: r.Ridership,
			Borough:   r.Borough,
			Station:   r.StationComplex,
		}
	}
	return out
}
