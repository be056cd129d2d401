// Package healthprobe serves liveness and readiness endpoints.
package healthprobe

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

const (
	StatusHealthy  = "healthy"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// HealthChecker tracks process liveness and readiness.
type HealthChecker struct {
	startTime time.Time
	ready     atomic.Bool

	mu     sync.RWMutex
	reason string
}

// New creates a HealthChecker that is live but not ready.
func New() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		reason:    "application is starting",
	}
}

// SetReady marks the application as ready to serve traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetNotReady clears readiness with a reason reported by /ready.
func (h *HealthChecker) SetNotReady(reason string) {
	h.mu.Lock()
	h.reason = reason
	h.mu.Unlock()
	h.ready.Store(false)
}

// IsReady reports the current readiness.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime,omitempty"`
	Message string `json:"message,omitempty"`
}

// Health returns the liveness handler. It always answers 200.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: StatusHealthy,
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

// Ready returns the readiness handler: 200 when ready, 503 otherwise.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready.Load() {
			h.mu.RLock()
			reason := h.reason
			h.mu.RUnlock()

			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  StatusNotReady,
				Message: reason,
			})
			return
		}

		writeJSON(w, http.StatusOK, HealthResponse{
			Status: StatusReady,
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
