// Package httpx writes JSON responses and maps explorer errors to status codes.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nicktill/ridership/pkg/explorer"
	"github.com/nicktill/ridership/pkg/ridership"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with the given status code and error message string.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	RespondJSON(w, status, response)
}

// StatusFor maps an error from the explorer to an HTTP status:
// bad input is 400, an unknown source 404, an unfittable forecast 422.
func StatusFor(err error) int {
	var (
		formatErr   *ridership.DataFormatError
		rangeErr    *ridership.RangeError
		forecastErr *ridership.ForecastError
	)
	switch {
	case errors.As(err, &formatErr), errors.As(err, &rangeErr):
		return http.StatusBadRequest
	case errors.Is(err, explorer.ErrUnknownSource):
		return http.StatusNotFound
	case errors.As(err, &forecastErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RespondFailure writes err with the status from StatusFor. Server errors
// are logged; client errors are only returned.
func RespondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	RespondError(w, status, err)
}
