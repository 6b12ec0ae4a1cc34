package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/villagegrid/telemetryd/pkg/httpx"
	"github.com/villagegrid/telemetryd/pkg/server/monitor"
)

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string              `json:"status"`
	Version   string              `json:"version"`
	Uptime    string              `json:"uptime"`
	Lifecycle monitor.SweepStatus `json:"lifecycle"`
}

// handleHealth returns service health status. The service reports degraded
// when the lifecycle sweep has not succeeded inside its healthy window.
func handleHealth(lifecycleMonitor *monitor.SweepMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !lifecycleMonitor.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    overallStatus,
			Version:   "1.0.0",
			Uptime:    time.Since(startTime).String(),
			Lifecycle: lifecycleMonitor.Status(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// Router configures all HTTP routes for the server.
func (a *App) Router() *mux.Router {
	router := mux.NewRouter()

	// CORS middleware for API access
	router.Use(corsMiddleware(a.Config.Port))

	api := router.PathPrefix("/v1").Subrouter()

	// Telemetry ingestion and querying
	api.HandleFunc("/telemetry", a.IngestHandler.HandleIngest).Methods("POST")
	api.HandleFunc("/telemetry", a.QueryHandler.HandleReadings).Methods("GET")
	api.HandleFunc("/telemetry/rollups", a.QueryHandler.HandleRollups).Methods("GET")

	// Device registry
	api.HandleFunc("/devices", a.RegistryHandler.HandleList).Methods("GET")
	api.HandleFunc("/devices", a.RegistryHandler.HandleRegister).Methods("POST")
	api.HandleFunc("/devices/{id}", a.RegistryHandler.HandleGet).Methods("GET")
	api.HandleFunc("/devices/{id}", a.RegistryHandler.HandleUpdate).Methods("PATCH")
	api.HandleFunc("/devices/{id}", a.RegistryHandler.HandleDelete).Methods("DELETE")

	// Stats and health
	api.HandleFunc("/stats", a.QueryHandler.HandleStats).Methods("GET")
	api.HandleFunc("/health", handleHealth(a.LifecycleMonitor)).Methods("GET")

	// WebSocket for real-time reading updates
	api.HandleFunc("/ws", a.Hub.HandleWebSocket).Methods("GET")

	return router
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Allow localhost origins for local development
			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			// Only set CORS headers for allowed origins
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
