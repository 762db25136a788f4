package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/ridership/pkg/aggregate"
	"github.com/nicktill/ridership/pkg/config"
	"github.com/nicktill/ridership/pkg/explorer"
	"github.com/nicktill/ridership/pkg/forecast"
	"github.com/nicktill/ridership/pkg/httpx"
	"github.com/nicktill/ridership/pkg/monitor"
	"github.com/nicktill/ridership/pkg/ridership"
	rt "github.com/nicktill/ridership/pkg/ridership/ridershiptest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func csvFor(table *ridership.Table) string {
	var records []ridership.Record
	for _, r := range table.All() {
		records = append(records, r)
	}
	return rt.CSV(records...)
}

// newTestApp serves the Mixed fixture as the default source and a flat
// two-station series as "flat".
func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, http.Handler) {
	t.Helper()
	dir := t.TempDir()

	mixed := filepath.Join(dir, "mixed.csv")
	require.NoError(t, os.WriteFile(mixed, []byte(csvFor(rt.Mixed())), 0o644))
	flat := filepath.Join(dir, "flat.csv")
	require.NoError(t, os.WriteFile(flat,
		[]byte(csvFor(rt.ConstantDaily(rt.Date(2024, 1, 1), 21, 50, "Atlantic Av", "Jamaica Center"))), 0o644))

	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{{Name: "mixed", Path: mixed}, {Name: "flat", Path: flat}}
	cfg.DefaultSource = "mixed"
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	app, err := Setup(&cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })
	return app, NewRouter(app)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out), w.Body.String())
	return out
}

func TestSetup_RegistersConfiguredSources(t *testing.T) {
	app, _ := newTestApp(t, nil)

	sources := app.Service.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "flat", sources[0].Name)
	assert.Equal(t, "mixed", sources[1].Name)
	assert.True(t, sources[1].Default)
	assert.Nil(t, app.Store)
	assert.Nil(t, app.GC)
}

func TestSetup_MissingSourceFile(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{{Name: "gone", Path: filepath.Join(t.TempDir(), "gone.parquet")}}

	_, err := Setup(&cfg, discardLogger())
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, 2, resp.Sources)
	assert.Nil(t, resp.GC)
}

func TestHealth_DegradedWhenGCFails(t *testing.T) {
	app, h := newTestApp(t, func(c *config.Config) {
		c.Cache.Persist = true
		c.Cache.PersistPath = filepath.Join(t.TempDir(), "forecasts")
	})
	require.NotNil(t, app.Store)
	require.NotNil(t, app.GC)

	w := get(t, h, "/v1/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, decode[HealthResponse](t, w).GC)

	for i := 0; i < 4; i++ {
		app.GC.RecordFailure(errors.New("value log unreadable"))
	}
	w = get(t, h, "/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 4, resp.GC.ConsecutiveErrors)
}

func TestRequestID_Propagated(t *testing.T) {
	_, h := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestHourly_DefaultSource(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/hourly")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	hours := decode[[]aggregate.HourValue](t, w)
	require.Len(t, hours, 24)
	total := 0.0
	for i, hv := range hours {
		assert.Equal(t, i, hv.Hour)
		total += hv.Value
	}
	assert.InDelta(t, 1680, total, 1e-9)
}

func TestDailyAndWeekly_Filtered(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/daily?start=2024-03-01&end=2024-03-03&station=Atlantic+Av")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	days := decode[[]aggregate.Bucket](t, w)
	require.Len(t, days, 3)
	assert.Equal(t, 11.0, days[0].Value)
	assert.Equal(t, 1, days[0].Count)

	w = get(t, h, "/v1/weekly")
	require.Equal(t, http.StatusOK, w.Code)
	weeks := decode[[]aggregate.Bucket](t, w)
	require.Len(t, weeks, 2)
	assert.Equal(t, time.Monday, weeks[1].Start.Weekday())
}

func TestErrorMapping(t *testing.T) {
	_, h := newTestApp(t, nil)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"bad date", "/v1/daily?start=03/01/2024", http.StatusBadRequest},
		{"reversed range", "/v1/daily?start=2024-03-05&end=2024-03-01", http.StatusBadRequest},
		{"bad where", "/v1/hourly?where=platform:2", http.StatusBadRequest},
		{"unknown breakdown column", "/v1/breakdown?by=ridership", http.StatusBadRequest},
		{"bad horizon", "/v1/forecast?horizon=soon", http.StatusBadRequest},
		{"unknown source", "/v1/hourly?source=nowhere", http.StatusNotFound},
		{"horizon beyond max", "/v1/forecast?source=flat&horizon=400", http.StatusUnprocessableEntity},
		{"single day forecast", "/v1/forecast?start=2024-03-01&end=2024-03-01", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, tt.target)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			resp := decode[httpx.ErrorResponse](t, w)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestCentroid(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/centroid?station=Jamaica+Center")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[CentroidResponse](t, w)
	require.False(t, resp.Empty)
	assert.InDelta(t, rt.Coordinates["Jamaica Center"][0], resp.Centroid.Latitude, 1e-9)
	assert.Equal(t, 10, resp.Centroid.Records)

	w = get(t, h, "/v1/centroid?station=Nowhere")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[CentroidResponse](t, w)
	assert.True(t, resp.Empty)
	assert.Nil(t, resp.Centroid)
}

func TestForecast(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/forecast?source=flat&horizon=3")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[forecast.Result](t, w)
	assert.Equal(t, 3, res.Horizon)
	assert.Equal(t, 21, res.History)
	require.Len(t, res.Points, 24)
	last := res.Points[len(res.Points)-1]
	assert.True(t, last.Future)
	assert.InEpsilon(t, 100, last.Value, 0.05)
}

func TestBreakdownScatterTrends(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/breakdown?by=borough")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	g := decode[aggregate.Grouped](t, w)
	assert.Equal(t, []string{ridership.ColumnBorough}, g.Columns)
	assert.Len(t, g.Groups, 3)

	w = get(t, h, "/v1/breakdown")
	require.Equal(t, http.StatusOK, w.Code)
	g = decode[aggregate.Grouped](t, w)
	assert.Equal(t, []string{ridership.ColumnPaymentMethod, ridership.ColumnFareClassCategory}, g.Columns)

	w = get(t, h, "/v1/scatter?n=5&seed=7")
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[[]aggregate.ScatterPoint](t, w)
	assert.Len(t, first, 5)
	again := decode[[]aggregate.ScatterPoint](t, get(t, h, "/v1/scatter?n=5&seed=7"))
	assert.Equal(t, first, again)

	w = get(t, h, "/v1/trends")
	require.Equal(t, http.StatusOK, w.Code)
	series := decode[[]aggregate.GroupSeries](t, w)
	require.Len(t, series, 3)
	assert.Equal(t, "Times Sq-42 St", series[0].Key.Value)
	assert.Len(t, series[0].Buckets, 10)
}

func TestStationsAndBoroughs(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/stations?borough=Brooklyn")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Atlantic Av"}, decode[[]string](t, w))

	w = get(t, h, "/v1/stations?borough=Nowhere")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{}, decode[[]string](t, w))

	w = get(t, h, "/v1/boroughs")
	require.Equal(t, http.StatusOK, w.Code)
	summaries := decode[[]aggregate.Summary](t, w)
	require.Len(t, summaries, 3)
	assert.Equal(t, "Manhattan", summaries[0].Key.Value)
	assert.Equal(t, 1, summaries[0].Stations)
}

func TestImportThenQuery(t *testing.T) {
	_, h := newTestApp(t, nil)

	body := csvFor(rt.ConstantDaily(rt.Date(2024, 5, 1), 3, 30, "Yankee Stadium"))
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/bronx", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = get(t, h, "/v1/stations?source=bronx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Yankee Stadium"}, decode[[]string](t, w))

	sources := decode[[]explorer.SourceInfo](t, get(t, h, "/v1/sources"))
	assert.Len(t, sources, 3)
}

func TestExport(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := get(t, h, "/v1/export?kind=daily&format=csv&source=flat")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 22)
}

func TestCORS(t *testing.T) {
	_, h := newTestApp(t, func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"http://dashboard.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/hourly", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://dashboard.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestApp(t, nil)

	require.Equal(t, http.StatusOK, get(t, h, "/v1/hourly").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/v1/hourly?station=Atlantic+Av").Code)

	w := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "ridership_loader_rows_total")
	assert.Contains(t, body, "ridership_cache_misses_total")
	assert.Contains(t, body, "go_goroutines")
}

type flakyGC struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyGC) RunGC(float64) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("rewrite failed")
	}
	return nil
}

func TestRunBadgerGC_RetriesThenRecovers(t *testing.T) {
	store := &flakyGC{}
	store.failures.Store(2)
	gm := &monitor.GCMonitor{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBadgerGC(ctx, store, gm, GCSchedule{
			Interval:     5 * time.Millisecond,
			DiscardRatio: 0.5,
			MaxRetries:   3,
			BaseDelay:    time.Millisecond,
		}, discardLogger())
	}()

	require.Eventually(t, func() bool {
		return gm.Status().LastSuccess != ""
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, store.calls.Load(), int32(3))
	status := gm.Status()
	assert.True(t, status.Healthy)
	assert.Zero(t, status.ConsecutiveErrors)
}

func TestRunBadgerGC_GivesUpAfterRetries(t *testing.T) {
	store := &flakyGC{}
	store.failures.Store(1 << 20)
	gm := &monitor.GCMonitor{}

	runGCWithRetry(context.Background(), store, gm, GCSchedule{
		DiscardRatio: 0.5,
		MaxRetries:   3,
		BaseDelay:    time.Millisecond,
	}, discardLogger())

	assert.Equal(t, int32(4), store.calls.Load())
	assert.False(t, gm.IsHealthy())
	assert.Equal(t, "rewrite failed", gm.Status().LastError)
}
