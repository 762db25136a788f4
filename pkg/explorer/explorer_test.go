package explorer

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/ridership/pkg/cache/memory"
	"github.com/nicktill/ridership/pkg/filter"
	"github.com/nicktill/ridership/pkg/forecast"
	"github.com/nicktill/ridership/pkg/loader"
	"github.com/nicktill/ridership/pkg/ridership"
	rt "github.com/nicktill/ridership/pkg/ridership/ridershiptest"
)

type countingForecaster struct {
	forecast.Forecaster
	fits atomic.Int32
}

func (c *countingForecaster) Fit(ctx context.Context, s forecast.Series) (forecast.Model, error) {
	c.fits.Add(1)
	return c.Forecaster.Fit(ctx, s)
}

type recordingObserver struct {
	mu      sync.Mutex
	hits    map[string]int
	misses  map[string]int
	kept    int
	fits    int
	fitErrs int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{hits: map[string]int{}, misses: map[string]int{}}
}

func (o *recordingObserver) CacheHit(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits[name]++
}

func (o *recordingObserver) CacheMiss(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.misses[name]++
}

func (o *recordingObserver) CacheCompute(string, time.Duration, error) {}

func (o *recordingObserver) RowsLoaded(kept, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kept += kept
}

func (o *recordingObserver) ForecastFit(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.fitErrs++
		return
	}
	o.fits++
}

func tableSource(name string, table *ridership.Table) *loader.BytesSource {
	var records []ridership.Record
	for _, r := range table.All() {
		records = append(records, r)
	}
	return &loader.BytesSource{Name: name, Data: []byte(rt.CSV(records...))}
}

func newService(t *testing.T, opts Options) (*Service, *countingForecaster) {
	t.Helper()
	counter := &countingForecaster{Forecaster: forecast.NewAdditive(0.8)}
	opts.Forecaster = counter
	if opts.DefaultSource == "" {
		opts.DefaultSource = "mixed"
	}
	s := New(opts)
	s.Register("mixed", tableSource("mixed", rt.Mixed()))
	s.Register("flat", tableSource("flat",
		rt.ConstantDaily(rt.Date(2024, 1, 1), 14, 50, "Atlantic Av", "Jamaica Center")))
	return s, counter
}

func TestService_UnknownSource(t *testing.T) {
	s, _ := newService(t, Options{})

	_, err := s.Daily(context.Background(), Query{Source: "nope"})
	assert.ErrorIs(t, err, ErrUnknownSource)

	empty := New(Options{})
	_, err = empty.Daily(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestService_HourlyUsesDefaultSource(t *testing.T) {
	s, _ := newService(t, Options{})

	hours, err := s.Hourly(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, hours, 24)

	var total float64
	for _, h := range hours {
		total += h.Value
	}
	assert.Equal(t, rt.Mixed().TotalRidership(), total)

	none, err := s.Hourly(context.Background(), Query{Criteria: filter.Criteria{
		Equals: map[string]string{ridership.ColumnStationComplex: "Nowhere"},
	}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_DailyAndWeekly(t *testing.T) {
	s, _ := newService(t, Options{})
	ctx := context.Background()

	days, err := s.Daily(ctx, Query{Source: "flat"})
	require.NoError(t, err)
	require.Len(t, days, 14)
	for _, d := range days {
		assert.InDelta(t, 100.0, d.Value, 1e-9)
	}

	weeks, err := s.Weekly(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, rt.Date(2024, 2, 26), weeks[0].Start)
}

func TestService_ViewCriteria(t *testing.T) {
	s, _ := newService(t, Options{})
	ctx := context.Background()

	start, end := rt.Date(2024, 3, 2), rt.Date(2024, 3, 3)
	q := Query{Criteria: filter.Criteria{
		Start:  &start,
		End:    &end,
		Equals: map[string]string{ridership.ColumnBorough: "Brooklyn"},
	}}
	view, err := s.View(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Len())

	again, err := s.View(ctx, q)
	require.NoError(t, err)
	assert.Same(t, view, again)

	_, err = s.View(ctx, Query{Criteria: filter.Criteria{Start: &end, End: &start}})
	var rangeErr *ridership.RangeError
	assert.True(t, errors.As(err, &rangeErr), "expected RangeError, got %v", err)

	_, err = s.View(ctx, Query{Criteria: filter.Criteria{Equals: map[string]string{"ridership": "1"}}})
	assert.ErrorAs(t, err, new(*ridership.DataFormatError))
}

func TestService_ForecastConstantStations(t *testing.T) {
	s, _ := newService(t, Options{})

	res, err := s.Forecast(context.Background(), Query{Source: "flat"}, 7)
	require.NoError(t, err)

	future := res.Future()
	require.Len(t, future, 7)
	for i, p := range future {
		assert.Equal(t, rt.Date(2024, 1, 15).AddDate(0, 0, i), p.Date)
		assert.InEpsilon(t, 100.0, p.Value, 0.05)
	}
}

func TestService_ForecastCachedPerViewAndHorizon(t *testing.T) {
	obs := newRecordingObserver()
	s, counter := newService(t, Options{Observer: obs})
	ctx := context.Background()

	q := Query{Criteria: filter.Criteria{Equals: map[string]string{ridership.ColumnStationComplex: "Atlantic Av"}}}
	first, err := s.Forecast(ctx, q, 7)
	require.NoError(t, err)
	again, err := s.Forecast(ctx, q, 7)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int32(1), counter.fits.Load())

	_, err = s.Forecast(ctx, q, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), counter.fits.Load(), "new horizon refits")

	_, err = s.Forecast(ctx, Query{Criteria: q.Criteria.With(ridership.ColumnBorough, "Brooklyn")}, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(3), counter.fits.Load(), "new criteria refit")

	// New content under the same name refits
	extra := rt.Record("Atlantic Av", rt.Date(2024, 3, 11).Add(8*time.Hour), 99)
	mixed := rt.Mixed()
	var records []ridership.Record
	for _, r := range mixed.All() {
		records = append(records, r)
	}
	s.Register("mixed", &loader.BytesSource{Name: "mixed", Data: []byte(rt.CSV(append(records, extra)...))})
	changed, err := s.Forecast(ctx, q, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(4), counter.fits.Load())
	assert.Equal(t, rt.Date(2024, 3, 11), changed.Points[changed.History-1].Date)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 4, obs.fits)
	assert.GreaterOrEqual(t, obs.hits["forecasts"], 1)
	assert.Positive(t, obs.kept)
}

func TestService_ForecastErrors(t *testing.T) {
	s, counter := newService(t, Options{MaxHorizonDays: 10})
	ctx := context.Background()

	_, err := s.Forecast(ctx, Query{}, 11)
	assert.ErrorAs(t, err, new(*ridership.ForecastError))
	_, err = s.Forecast(ctx, Query{}, -1)
	assert.ErrorAs(t, err, new(*ridership.ForecastError))
	assert.Equal(t, int32(0), counter.fits.Load())

	empty := Query{Criteria: filter.Criteria{Equals: map[string]string{ridership.ColumnStationComplex: "Nowhere"}}}
	_, err = s.Forecast(ctx, empty, 7)
	assert.ErrorAs(t, err, new(*ridership.ForecastError))

	// Failures are not cached
	_, err = s.Forecast(ctx, empty, 7)
	assert.ErrorAs(t, err, new(*ridership.ForecastError))
	assert.Equal(t, int32(2), counter.fits.Load())
}

func TestService_ForecastBackingSurvivesRestart(t *testing.T) {
	backing := memory.New(16, 0)
	ctx := context.Background()

	first, counter := newService(t, Options{ForecastBacking: backing})
	res, err := first.Forecast(ctx, Query{Source: "flat"}, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(1), counter.fits.Load())

	second, counter2 := newService(t, Options{ForecastBacking: backing})
	restored, err := second.Forecast(ctx, Query{Source: "flat"}, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(0), counter2.fits.Load())
	require.Len(t, restored.Points, len(res.Points))
	assert.InDelta(t, res.Points[len(res.Points)-1].Value, restored.Points[len(restored.Points)-1].Value, 1e-9)
	assert.True(t, res.Points[0].Date.Equal(restored.Points[0].Date))
}

func TestService_Scatter(t *testing.T) {
	s, _ := newService(t, Options{MaxSampleSize: 5, SampleSize: 3})
	ctx := context.Background()

	def, err := s.Scatter(ctx, Query{}, 0, nil)
	require.NoError(t, err)
	assert.Len(t, def, 3)

	capped, err := s.Scatter(ctx, Query{}, 100, nil)
	require.NoError(t, err)
	assert.Len(t, capped, 5)

	seed := uint64(9)
	a, err := s.Scatter(ctx, Query{}, 4, &seed)
	require.NoError(t, err)
	b, err := s.Scatter(ctx, Query{}, 4, &seed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestService_StationsBoroughsAndBreakdown(t *testing.T) {
	s, _ := newService(t, Options{})
	ctx := context.Background()

	stations, err := s.Stations(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Times Sq-42 St", "Atlantic Av", "Jamaica Center"}, stations)

	boroughs, err := s.Boroughs(ctx, Query{Source: "flat"})
	require.NoError(t, err)
	require.Len(t, boroughs, 2)
	assert.Equal(t, "Brooklyn", boroughs[0].Key.Value)
	assert.Equal(t, 1, boroughs[0].Stations)
	assert.InDelta(t, 700.0, boroughs[0].Ridership, 1e-9)

	grouped, err := s.Breakdown(ctx, Query{}, []string{ridership.ColumnPaymentMethod, ridership.ColumnFareClassCategory})
	require.NoError(t, err)
	var total float64
	for _, g := range grouped.Groups {
		total += g.Value
	}
	assert.Equal(t, rt.Mixed().TotalRidership(), total)

	trends, err := s.Trends(ctx, Query{}, "")
	require.NoError(t, err)
	assert.Len(t, trends, 3)

	c, ok, err := s.Centroid(ctx, Query{Source: "flat"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 56, c.Records)
}

func TestService_SourcesReportLoads(t *testing.T) {
	s, _ := newService(t, Options{})

	before := s.Sources()
	require.Len(t, before, 2)
	assert.Equal(t, "flat", before[0].Name)
	assert.Nil(t, before[0].Report)
	assert.True(t, before[1].Default)

	_, _, err := s.Table(context.Background(), "flat")
	require.NoError(t, err)
	after := s.Sources()
	require.NotNil(t, after[0].Report)
	assert.Equal(t, 56, after[0].Report.RowsKept)
	assert.Equal(t, "2024-01-01", after[0].FirstDate)
	assert.Equal(t, "2024-01-14", after[0].LastDate)
	assert.Empty(t, after[1].FirstDate)
}

func TestParseQuery(t *testing.T) {
	values := url.Values{
		"source":  {"mixed"},
		"start":   {"2024-03-01"},
		"end":     {"2024-03-05"},
		"station": {"Atlantic Av"},
		"where":   {"payment_method:omny", "fare_class_category:Full Fare"},
	}
	q, err := ParseQuery(values)
	require.NoError(t, err)
	assert.Equal(t, "mixed", q.Source)
	require.NotNil(t, q.Criteria.Start)
	assert.Equal(t, rt.Date(2024, 3, 1), *q.Criteria.Start)
	assert.Equal(t, map[string]string{
		ridership.ColumnStationComplex:    "Atlantic Av",
		ridership.ColumnPaymentMethod:     "omny",
		ridership.ColumnFareClassCategory: "Full Fare",
	}, q.Criteria.Equals)

	empty, err := ParseQuery(url.Values{})
	require.NoError(t, err)
	assert.Nil(t, empty.Criteria.Equals)
	assert.Nil(t, empty.Criteria.Start)

	for _, bad := range []url.Values{
		{"start": {"03/01/2024"}},
		{"where": {"borough"}},
		{"where": {"ridership:5"}},
	} {
		_, err := ParseQuery(bad)
		assert.ErrorAs(t, err, new(*ridership.DataFormatError), "%v", bad)
	}
}

func TestParams(t *testing.T) {
	values := url.Values{"n": {"12"}, "bad": {"x"}, "by": {"borough, payment_method", "fare_class_category"}}

	n, err := IntParam(values, "n", 5)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	n, err = IntParam(values, "missing", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = IntParam(values, "bad", 5)
	assert.Error(t, err)

	assert.Equal(t, []string{"borough", "payment_method", "fare_class_category"}, ListParam(values, "by"))
	assert.Nil(t, ListParam(values, "none"))
}
