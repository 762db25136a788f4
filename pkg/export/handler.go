package export

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/nicktill/ridership/pkg/explorer"
	"github.com/nicktill/ridership/pkg/httpx"
	"github.com/nicktill/ridership/pkg/loader"
	"github.com/nicktill/ridership/pkg/ridership"
)

// Kinds lists the aggregates that can be exported.
var Kinds = []string{"hourly", "daily", "weekly", "breakdown", "trends", "scatter", "boroughs", "forecast"}

// Handler handles export/import HTTP endpoints
type Handler struct {
	svc      *explorer.Service
	exporter *Exporter
	importer *Importer
	logger   *slog.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(svc *explorer.Service, maxImportBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:      svc,
		exporter: NewExporter(),
		importer: NewImporter(svc, maxImportBytes),
		logger:   logger,
	}
}

// Collect runs the aggregate named by kind with the request parameters
// (the same ones the JSON endpoints take) and flattens it.
func Collect(ctx context.Context, svc *explorer.Service, kind string, values url.Values) (Dataset, error) {
	q, err := explorer.ParseQuery(values)
	if err != nil {
		return Dataset{}, err
	}

	switch kind {
	case "hourly":
		hours, err := svc.Hourly(ctx, q)
		return FromHours(hours), err
	case "daily":
		days, err := svc.Daily(ctx, q)
		return FromBuckets(kind, days), err
	case "weekly":
		weeks, err := svc.Weekly(ctx, q)
		return FromBuckets(kind, weeks), err
	case "breakdown":
		by := explorer.ListParam(values, "by")
		if len(by) == 0 {
			by = []string{ridership.ColumnPaymentMethod, ridership.ColumnFareClassCategory}
		}
		g, err := svc.Breakdown(ctx, q, by)
		if err != nil {
			return Dataset{}, err
		}
		return FromGrouped(g), nil
	case "trends":
		by := values.Get("by")
		if by == "" {
			by = ridership.ColumnStationComplex
		}
		series, err := svc.Trends(ctx, q, by)
		return FromSeries(by, series), err
	case "scatter":
		n, err := explorer.IntParam(values, "n", 0)
		if err != nil {
			return Dataset{}, err
		}
		seed, err := explorer.SeedParam(values)
		if err != nil {
			return Dataset{}, err
		}
		points, err := svc.Scatter(ctx, q, n, seed)
		return FromScatter(points), err
	case "boroughs":
		summaries, err := svc.Boroughs(ctx, q)
		return FromSummaries(ridership.ColumnBorough, summaries), err
	case "forecast":
		horizon, err := explorer.IntParam(values, "horizon", svc.DefaultHorizon())
		if err != nil {
			return Dataset{}, err
		}
		res, err := svc.Forecast(ctx, q, horizon)
		if err != nil {
			return Dataset{}, err
		}
		return FromForecast(res), nil
	default:
		return Dataset{}, &ridership.DataFormatError{Column: "kind", Value: kind, Reason: fmt.Sprintf("want one of %v", Kinds)}
	}
}

// HandleExport handles GET /v1/export?kind=...&format=csv|json|xlsx plus
// the usual query parameters.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	format, err := ParseFormat(values.Get("format"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ds, err := Collect(r.Context(), h.svc, values.Get("kind"), values)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": Filename(ds, format, h.exporter.now()),
	}))
	result, err := h.exporter.Write(w, ds, format)
	if err != nil {
		// Headers are gone; the client sees a truncated file
		h.logger.ErrorContext(r.Context(), "export failed", "kind", ds.Kind, "format", format, "error", err)
		return
	}
	h.logger.InfoContext(r.Context(), "export written", "kind", result.Kind, "format", result.Format, "rows", result.RowsExported)
}

// HandleImport handles POST /v1/sources/{name} with a CSV or XLSX body.
// The format comes from ?format= or the Content-Type, defaulting to CSV.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	format, err := uploadFormat(r)
	if err != nil {
		httpx.RespondError(w, http.StatusUnsupportedMediaType, err)
		return
	}

	result, err := h.importer.ImportSource(r.Context(), name, format, r.Body)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}

	if result.RowsDropped > 0 {
		h.logger.WarnContext(r.Context(), "import dropped rows", "source", name, "count", result.RowsDropped)
	}
	h.logger.InfoContext(r.Context(), "source imported", "source", name, "rows", result.RowsImported)
	httpx.RespondJSON(w, http.StatusCreated, result)
}

func uploadFormat(r *http.Request) (loader.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return loader.FormatFromPath("upload." + f)
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return loader.FormatCSV, nil
	}
	switch mediaType {
	case FormatXLSX.ContentType():
		return loader.FormatXLSX, nil
	case "text/csv", "text/plain", "application/octet-stream":
		return loader.FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported content type %q (want text/csv or an xlsx workbook)", mediaType)
	}
}
