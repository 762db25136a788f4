package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/nicktill/ridership/pkg/aggregate"
	"github.com/nicktill/ridership/pkg/explorer"
	"github.com/nicktill/ridership/pkg/forecast"
	"github.com/nicktill/ridership/pkg/loader"
	"github.com/nicktill/ridership/pkg/ridership"
	rt "github.com/nicktill/ridership/pkg/ridership/ridershiptest"
)

func dailyDataset() Dataset {
	return FromBuckets("daily", []aggregate.Bucket{
		{Start: rt.Date(2024, 3, 1), Value: 120.5, Count: 3},
		{Start: rt.Date(2024, 3, 2), Value: 80, Count: 2},
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("xlsx")
	require.NoError(t, err)
	assert.Contains(t, f.ContentType(), "spreadsheetml")

	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	result, err := NewExporter().Write(&buf, dailyDataset(), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsExported)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"date", "ridership", "records"},
		{"2024-03-01", "120.5", "3"},
		{"2024-03-02", "80", "2"},
	}, rows)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	ds := FromGrouped(&aggregate.Grouped{
		Columns: []string{ridership.ColumnFareClassCategory},
		Groups: []aggregate.Group{
			{Key: []aggregate.GroupValue{aggregate.Absent()}, Value: 10, Count: 1},
			{Key: []aggregate.GroupValue{aggregate.Present("Students")}, Value: 5, Count: 1},
		},
	})
	_, err := NewExporter().Write(&buf, ds, FormatJSON)
	require.NoError(t, err)

	var out jsonExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "breakdown", out.Metadata.Kind)
	assert.Equal(t, 2, out.Metadata.RowCount)
	require.Len(t, out.Rows, 2)
	assert.Nil(t, out.Rows[0][ridership.ColumnFareClassCategory])
	assert.Equal(t, "Students", out.Rows[1][ridership.ColumnFareClassCategory])
	assert.Equal(t, 5.0, out.Rows[1]["ridership"])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewExporter().Write(&buf, dailyDataset(), FormatXLSX)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("daily")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"date", "ridership", "records"}, rows[0])
	assert.Equal(t, "2024-03-01", rows[1][0])
	assert.Equal(t, "120.5", rows[1][1])
}

func TestFromForecast(t *testing.T) {
	actual := 90.0
	ds := FromForecast(&forecast.Result{Points: []forecast.Point{
		{Date: rt.Date(2024, 3, 1), Value: 100, Actual: &actual},
		{Date: rt.Date(2024, 3, 2), Value: 101, Future: true},
	}})
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, 90.0, ds.Rows[0][6])
	assert.Nil(t, ds.Rows[1][6])
	assert.Equal(t, true, ds.Rows[1][7])

	var buf bytes.Buffer
	_, err := NewExporter().Write(&buf, ds, FormatCSV)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2024-03-02,101,0,0,0,0,,true")
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, "ridership-daily-20240301-101500.xlsx", Filename(dailyDataset(), FormatXLSX, at))
}

type catalog struct {
	sources map[string]loader.Source
}

func (c *catalog) Register(name string, src loader.Source) {
	if c.sources == nil {
		c.sources = map[string]loader.Source{}
	}
	c.sources[name] = src
}

func TestImportSource(t *testing.T) {
	cat := &catalog{}
	im := NewImporter(cat, 0)
	content := rt.CSV(
		rt.Record("Atlantic Av", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), 4),
		rt.Record("Atlantic Av", time.Date(2024, 3, 3, 8, 0, 0, 0, time.UTC), 6),
	) + "bad,Atlantic Av,Brooklyn,1,40.68,-73.97,,,\n"

	result, err := im.ImportSource(context.Background(), "upload-1", loader.FormatCSV, strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsImported)
	assert.Equal(t, 1, result.RowsDropped)
	assert.Equal(t, "2024-03-01", result.FirstDate)
	assert.Equal(t, "2024-03-03", result.LastDate)
	require.Contains(t, cat.sources, "upload-1")
	assert.Equal(t, "bytes:upload-1", cat.sources["upload-1"].ID())
}

func TestImportSource_Rejects(t *testing.T) {
	cat := &catalog{}
	ctx := context.Background()

	_, err := NewImporter(cat, 0).ImportSource(ctx, "nohdr", loader.FormatCSV,
		strings.NewReader("transit_timestamp,ridership\n2024-03-01,1\n"))
	assert.ErrorAs(t, err, new(*ridership.DataFormatError))

	_, err = NewImporter(cat, 10).ImportSource(ctx, "big", loader.FormatCSV, strings.NewReader(rt.CSV()))
	assert.ErrorAs(t, err, new(*ridership.DataFormatError))

	_, err = NewImporter(cat, 0).ImportSource(ctx, "a/b", loader.FormatCSV, strings.NewReader(rt.CSV()))
	assert.ErrorAs(t, err, new(*ridership.DataFormatError))

	_, err = NewImporter(cat, 0).ImportSource(ctx, "blank", loader.FormatCSV, strings.NewReader("  \n"))
	assert.ErrorAs(t, err, new(*ridership.DataFormatError))

	assert.Empty(t, cat.sources)
}

func newTestRouter(t *testing.T) (*mux.Router, *explorer.Service) {
	t.Helper()
	svc := explorer.New(explorer.Options{DefaultSource: "mixed"})
	var records []ridership.Record
	for _, r := range rt.Mixed().All() {
		records = append(records, r)
	}
	svc.Register("mixed", &loader.BytesSource{Name: "mixed", Data: []byte(rt.CSV(records...))})

	h := NewHandler(svc, 0, nil)
	router := mux.NewRouter()
	router.HandleFunc("/v1/export", h.HandleExport).Methods(http.MethodGet)
	router.HandleFunc("/v1/sources/{name}", h.HandleImport).Methods(http.MethodPost)
	return router, svc
}

func TestHandleExport(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/export?kind=weekly&format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ridership-weekly-")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-26", "189", "9"}, rows[1])

	for _, target := range []string{
		"/v1/export?kind=nope",
		"/v1/export?kind=daily&format=pdf",
		"/v1/export?kind=daily&start=yesterday",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/export?kind=daily&source=other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleImport(t *testing.T) {
	router, svc := newTestRouter(t)

	body := rt.CSV(rt.Record("Yankee Stadium", time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC), 42))
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/games", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.RowsImported)

	days, err := svc.Daily(context.Background(), explorer.Query{Source: "games"})
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 42.0, days[0].Value)

	req = httptest.NewRequest(http.MethodPost, "/v1/sources/pics", strings.NewReader("x"))
	req.Header.Set("Content-Type", "image/png")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
