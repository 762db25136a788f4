package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/ridership/pkg/aggregate"
	"github.com/nicktill/ridership/pkg/config"
	"github.com/nicktill/ridership/pkg/explorer"
	"github.com/nicktill/ridership/pkg/httpx"
	"github.com/nicktill/ridership/pkg/logging"
	"github.com/nicktill/ridership/pkg/monitor"
	"github.com/nicktill/ridership/pkg/ridership"
)

// Version is reported by /v1/health.
const Version = "1.0.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Sources int               `json:"sources"`
	GC      *monitor.GCStatus `json:"gc,omitempty"`
}

// CentroidResponse is the mean position of a view; Empty is set when no
// record matched and Centroid is then omitted.
type CentroidResponse struct {
	Centroid *aggregate.Centroid `json:"centroid,omitempty"`
	Empty    bool                `json:"empty"`
}

type handlers struct {
	svc *explorer.Service
	gc  *monitor.GCMonitor
}

// handleHealth returns service health status.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Sources: len(h.svc.Sources()),
	}
	statusCode := http.StatusOK

	if h.gc != nil {
		status := h.gc.Status()
		response.GC = &status
		if !h.gc.IsHealthy() {
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	httpx.RespondJSON(w, statusCode, response)
}

func (h *handlers) handleSources(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.svc.Sources())
}

// query wraps an explorer call that only needs the parsed Query.
func query[T any](fn func(context.Context, explorer.Query) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := explorer.ParseQuery(r.URL.Query())
		if err != nil {
			httpx.RespondFailure(w, r, err)
			return
		}
		out, err := fn(r.Context(), q)
		if err != nil {
			httpx.RespondFailure(w, r, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, out)
	}
}

func (h *handlers) handleCentroid(w http.ResponseWriter, r *http.Request) {
	q, err := explorer.ParseQuery(r.URL.Query())
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	c, ok, err := h.svc.Centroid(r.Context(), q)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	resp := CentroidResponse{Empty: !ok}
	if ok {
		resp.Centroid = &c
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleForecast(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q, err := explorer.ParseQuery(values)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	horizon, err := explorer.IntParam(values, "horizon", h.svc.DefaultHorizon())
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	res, err := h.svc.Forecast(r.Context(), q, horizon)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

func (h *handlers) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q, err := explorer.ParseQuery(values)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	by := explorer.ListParam(values, "by")
	if len(by) == 0 {
		by = []string{ridership.ColumnPaymentMethod, ridership.ColumnFareClassCategory}
	}
	g, err := h.svc.Breakdown(r.Context(), q, by)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, g)
}

func (h *handlers) handleScatter(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q, err := explorer.ParseQuery(values)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	n, err := explorer.IntParam(values, "n", 0)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	seed, err := explorer.SeedParam(values)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	points, err := h.svc.Scatter(r.Context(), q, n, seed)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, points)
}

func (h *handlers) handleTrends(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q, err := explorer.ParseQuery(values)
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	series, err := h.svc.Trends(r.Context(), q, values.Get("by"))
	if err != nil {
		httpx.RespondFailure(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, series)
}

// NewRouter configures all HTTP routes for the app.
func NewRouter(app *App) *mux.Router {
	h := &handlers{svc: app.Service, gc: app.GC}
	svc := app.Service

	router := mux.NewRouter()
	router.Use(requestMiddleware(app.Logger))
	router.Use(corsMiddleware(app.Config.Server.AllowedOrigins))

	router.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(timeoutMiddleware(config.RequestTimeout))

	api.HandleFunc("/health", h.handleHealth).Methods("GET")
	api.HandleFunc("/sources", h.handleSources).Methods("GET")
	api.HandleFunc("/sources/{name}", app.Export.HandleImport).Methods("POST")

	api.HandleFunc("/stations", query(svc.Stations)).Methods("GET")
	api.HandleFunc("/boroughs", query(svc.Boroughs)).Methods("GET")
	api.HandleFunc("/hourly", query(svc.Hourly)).Methods("GET")
	api.HandleFunc("/daily", query(svc.Daily)).Methods("GET")
	api.HandleFunc("/weekly", query(svc.Weekly)).Methods("GET")
	api.HandleFunc("/centroid", h.handleCentroid).Methods("GET")
	api.HandleFunc("/forecast", h.handleForecast).Methods("GET")
	api.HandleFunc("/breakdown", h.handleBreakdown).Methods("GET")
	api.HandleFunc("/scatter", h.handleScatter).Methods("GET")
	api.HandleFunc("/trends", h.handleTrends).Methods("GET")

	api.HandleFunc("/export", app.Export.HandleExport).Methods("GET")

	// Preflight requests never match a method-restricted route
	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return router
}

// requestMiddleware tags each request with an id (the caller's X-Request-ID
// or a new uuid) for the logger, and logs it when done.
func requestMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := logging.WithRequestID(r.Context(), id)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			logger.LogAttrs(ctx, slog.LevelDebug, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// timeoutMiddleware bounds the context of every API request.
func timeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// corsMiddleware allows the configured origins only.
func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && slices.Contains(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
