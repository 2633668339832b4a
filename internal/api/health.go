package api

import (
	"context"
	"net/http"
	"time"

	"github.com/HalSarj/JaaS/internal/pipeline"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Pipeline      pipeline.Stats    `json:"pipeline"`
}

// Pinger reports database reachability.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource exposes pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

type HealthHandler struct {
	db        Pinger
	pipeline  StatsSource
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, p StatsSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		pipeline:  p,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        map[string]string{"database": "ok"},
		Pipeline:      h.pipeline.Stats(),
	}

	status := http.StatusOK
	if err := h.db.HealthCheck(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	WriteJSON(w, status, resp)
}
