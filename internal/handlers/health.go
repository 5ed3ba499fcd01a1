package handlers

import (
	"net/http"
	"runtime"
	"time"

	"lazythumb/internal/config"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Strategy string `json:"strategy"`
	Error    string `json:"error,omitempty"`

	// Activity
	Subscriptions int   `json:"subscriptions"`
	CacheEntries  int   `json:"cacheEntries"`
	CacheBytes    int64 `json:"cacheBytes"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	entries, bytes := h.cache().MemoryStats()

	response := HealthResponse{
		Status:        statusHealthy,
		Ready:         true,
		Version:       config.Version,
		Uptime:        time.Since(h.startTime).Round(time.Second).String(),
		Strategy:      h.engine.Strategy(),
		Subscriptions: h.engine.Active(),
		CacheEntries:  entries,
		CacheBytes:    bytes,
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutine:  runtime.NumGoroutine(),
	}

	if err := h.ping(r); err != nil {
		response.Status = statusDegraded
		response.Ready = false
		response.Error = err.Error()
	}

	code := http.StatusOK
	if !response.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSONCode(w, code, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the manifest database answers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r); err != nil {
		log.Warn("readiness check failed: %v", err)
		writeJSONStatus(w, http.StatusServiceUnavailable, "not_ready")
		return
	}
	writeJSONStatus(w, http.StatusOK, "ready")
}

func (h *Handlers) ping(r *http.Request) error {
	if h.db == nil {
		return nil
	}
	return h.db.Ping(r.Context())
}
