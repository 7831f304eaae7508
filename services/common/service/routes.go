package service

import (
	"net/http"
	"time"

	"github.com/vidaleve/companion/internal/httputil"
)

// HealthResponse is the standard response for the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// InfoResponse is the standard response for the /info endpoint.
type InfoResponse struct {
	Status     string         `json:"status"`
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	Uptime     string         `json:"uptime"`
	Timestamp  string         `json:"timestamp"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// HealthChecker lets a service report a non-default health status.
type HealthChecker interface {
	HealthStatus() string
}

// HealthHandler returns the standard /health handler.
func HealthHandler(b *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			Service:   b.name,
			Version:   b.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// InfoHandler returns the standard /info handler, including statistics from
// the registered stats hook if present.
func InfoHandler(b *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := InfoResponse{
			Status:    "active",
			Service:   b.name,
			Version:   b.version,
			Uptime:    time.Since(b.startTime).String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if b.statsFn != nil {
			resp.Statistics = b.statsFn()
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// RegisterStandardRoutes registers the shared /health and /info endpoints.
func (b *BaseService) RegisterStandardRoutes() {
	b.router.HandleFunc("/health", HealthHandler(b)).Methods(http.MethodGet)
	b.router.HandleFunc("/info", InfoHandler(b)).Methods(http.MethodGet)
}
