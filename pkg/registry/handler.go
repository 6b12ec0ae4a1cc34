package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/villagegrid/telemetryd/pkg/config"
	"github.com/villagegrid/telemetryd/pkg/httpx"
	"github.com/villagegrid/telemetryd/pkg/telemetry"
)

// Handler exposes the device registry over HTTP.
type Handler struct {
	registry *Registry
}

// NewHandler creates a registry handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// ListResponse is the paginated device list payload.
type ListResponse struct {
	Devices []DeviceWithCount `json:"devices"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
}

// HandleList handles GET /v1/devices.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if raw := q.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = parsed
	}
	limit := config.DevicesDefaultPageSize
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > config.DevicesMaxPageSize {
		limit = config.DevicesMaxPageSize
	}

	status := telemetry.DeviceStatus(q.Get("status"))
	if status != "" && !telemetry.ValidStatus(status) {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", status))
		return
	}

	devices, total, err := h.registry.List(r.Context(), Filter{
		Type:   q.Get("type"),
		Status: status,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if devices == nil {
		devices = []DeviceWithCount{}
	}

	httpx.RespondJSON(w, http.StatusOK, ListResponse{
		Devices: devices,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

// HandleRegister handles POST /v1/devices.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var params RegisterParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	device, err := h.registry.Register(r.Context(), params)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, device)
}

// HandleGet handles GET /v1/devices/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	device, err := h.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, device)
}

// HandleUpdate handles PATCH /v1/devices/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch UpdatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	device, err := h.registry.UpdateAttributes(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, device)
}

// HandleDelete handles DELETE /v1/devices/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
