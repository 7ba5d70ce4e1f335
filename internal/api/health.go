package api

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	provider  string
	backend   string
	jobs      *JobManager
	version   string
	startTime time.Time
}

func NewHealthHandler(provider, backend string, jobs *JobManager, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		provider:  provider,
		backend:   backend,
		jobs:      jobs,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"provider": h.provider,
		"storage":  h.backend,
	}
	if h.jobs != nil {
		checks["queue"] = "ok"
	} else {
		checks["queue"] = "not_configured"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
