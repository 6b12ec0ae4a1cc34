package query

import (
	"net/http"
	"strconv"
	"time"

	"github.com/villagegrid/telemetryd/pkg/config"
	"github.com/villagegrid/telemetryd/pkg/httpx"
	"github.com/villagegrid/telemetryd/pkg/rollup"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// Handler exposes the query service over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a query handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// TimeRange echoes the effective query window back to the caller.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ReadingsResponse is the GET /v1/telemetry payload.
type ReadingsResponse struct {
	Readings  []telemetry.Reading `json:"readings"`
	Count     int                 `json:"count"`
	DeviceID  string              `json:"deviceId"`
	TimeRange TimeRange           `json:"timeRange"`
}

// HandleReadings handles GET /v1/telemetry. limit is silently capped at
// the store's hard maximum.
func (h *Handler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	deviceID := q.Get("deviceId")
	if deviceID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "deviceId parameter is required")
		return
	}

	now := time.Now().UTC()
	from, ok := parseTimeParam(q.Get("from"), now.Add(-config.QueryDefaultWindow))
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must be RFC3339 or unix seconds")
		return
	}
	to, ok := parseTimeParam(q.Get("to"), now)
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "to must be RFC3339 or unix seconds")
		return
	}
	if !from.Before(to) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must be before to")
		return
	}

	limit := config.QueryDefaultLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	readings, err := h.service.Readings(r.Context(), deviceID, from, to, limit)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}

	httpx.RespondJSON(w, http.StatusOK, ReadingsResponse{
		Readings:  readings,
		Count:     len(readings),
		DeviceID:  deviceID,
		TimeRange: TimeRange{From: from, To: to},
	})
}

// RollupsResponse is the GET /v1/telemetry/rollups payload.
type RollupsResponse struct {
	Rollups   []rollup.HourlyRollup `json:"rollups"`
	Count     int                   `json:"count"`
	DeviceID  string                `json:"deviceId"`
	TimeRange TimeRange             `json:"timeRange"`
}

// HandleRollups handles GET /v1/telemetry/rollups.
func (h *Handler) HandleRollups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	deviceID := q.Get("deviceId")
	if deviceID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "deviceId parameter is required")
		return
	}

	now := time.Now().UTC()
	from, ok := parseTimeParam(q.Get("from"), now.Add(-config.QueryDefaultWindow))
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must be RFC3339 or unix seconds")
		return
	}
	to, ok := parseTimeParam(q.Get("to"), now)
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "to must be RFC3339 or unix seconds")
		return
	}

	rollups, err := h.service.Rollups(r.Context(), deviceID, from, to)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if rollups == nil {
		rollups = []rollup.HourlyRollup{}
	}

	httpx.RespondJSON(w, http.StatusOK, RollupsResponse{
		Rollups:   rollups,
		Count:     len(rollups),
		DeviceID:  deviceID,
		TimeRange: TimeRange{From: from, To: to},
	})
}

// HandleStats handles GET /v1/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

// parseTimeParam parses RFC3339 or unix-seconds time parameters.
func parseTimeParam(param string, defaultTime time.Time) (time.Time, bool) {
	if param == "" {
		return defaultTime, true
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t, true
	}
	if unix, err := strconv.ParseInt(param, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), true
	}
	return time.Time{}, false
}
