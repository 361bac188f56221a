package httpapi

import (
	"context"
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"batchgen/internal/decoding"
	"batchgen/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusOf maps a service error to an HTTP status. An expired generate
// timeout is a 504.
func statusOf(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeError writes err as an ErrorResponse. Decoding option errors carry
// the offending field.
func writeError(w http.ResponseWriter, err error) int {
	status := statusOf(err)
	resp := types.ErrorResponse{Error: err.Error(), Code: status}
	var ie *decoding.InvalidConfigurationError
	if errors.As(err, &ie) {
		resp.Field = ie.Field
	}
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("overloaded")
	}
	writeJSON(w, status, resp)
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
