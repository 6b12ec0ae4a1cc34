// Package httpx provides HTTP response utilities shared by all handlers.
package httpx

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse represents an error response. Kind is the machine-readable
// error category; Message is human-readable detail.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Kind:    kindForStatus(status),
		Message: err.Error(),
	})
}

// RespondErrorString writes an error response with the given status code and message.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Kind:    kindForStatus(status),
		Message: message,
	})
}

// RespondDomainError maps a domain error to its HTTP status and writes it.
// Unknown errors are reported as storage failures (500, retryable).
func RespondDomainError(w http.ResponseWriter, err error) {
	switch {
	case telemetry.IsValidation(err):
		RespondError(w, http.StatusBadRequest, err)
	case telemetry.IsNotFound(err):
		RespondError(w, http.StatusNotFound, err)
	case telemetry.IsConflict(err):
		RespondError(w, http.StatusConflict, err)
	default:
		RespondError(w, http.StatusInternalServerError, err)
	}
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "storage"
	}
}
