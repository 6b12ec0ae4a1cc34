package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/villagegrid/telemetryd/pkg/httpx"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// Handler handles telemetry ingestion over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates an ingest handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// IngestRequest is the POST /v1/telemetry payload. Timestamp is optional
// RFC3339; omitted means server-assigned.
type IngestRequest struct {
	DeviceID  string            `json:"deviceId"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metrics   telemetry.Metrics `json:"metrics"`
}

// HandleIngest handles POST /v1/telemetry.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	reading, err := h.service.Ingest(r.Context(), req.DeviceID, req.Timestamp, req.Metrics)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, reading)
}
