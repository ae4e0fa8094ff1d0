package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mimir-aip/mimir-insight/pkg/models"
)

// writeJSONResponse writes a JSON response with the given status code
func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes an error body with the given status, kind and message
func writeErrorResponse(w http.ResponseWriter, statusCode int, kind, message string) {
	writeJSONResponse(w, statusCode, map[string]any{
		"error":  message,
		"kind":   kind,
		"status": "error",
	})
}

// StatusFor maps an error to its HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}

	switch models.KindOf(err) {
	case models.ErrorKindValidation, models.ErrorKindParse:
		return http.StatusBadRequest
	case models.ErrorKindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case models.ErrorKindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err using the categorized status mapping
func writeError(w http.ResponseWriter, err error) {
	kind := string(models.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	body := map[string]any{
		"error":  err.Error(),
		"kind":   kind,
		"status": "error",
	}
	var e *models.Error
	if errors.As(err, &e) && len(e.Context) > 0 {
		body["context"] = e.Context
	}
	writeJSONResponse(w, StatusFor(err), body)
}

// parseIntParam reads an optional integer query parameter
func parseIntParam(r *http.Request, name string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError("%s must be an integer", name)
	}
	return n, nil
}
