package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"skyportal/pkg/logger"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type SystemHandler struct {
	checks    map[string]HealthCheck
	logger    logger.Logger
	startTime time.Time
	timeout   time.Duration
}

func NewSystemHandler(checks map[string]HealthCheck, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		logger:    log,
		startTime: time.Now(),
		timeout:   2 * time.Second,
	}
}

type ServiceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // operational, degraded, outage
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status        string          `json:"status"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Services      []ServiceStatus `json:"services"`
}

// Health reports 200 when every dependency answers and 503 otherwise.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{
		Status:        "operational",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Services:      make([]ServiceStatus, 0, len(names)),
	}

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := time.Now()
		err := h.checks[name](ctx)
		cancel()

		svc := ServiceStatus{Name: name, Status: "operational", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			svc.Status = "outage"
			svc.Error = err.Error()
			resp.Status = "degraded"
			h.logger.Error("Health check failed", map[string]interface{}{"service": name, "error": err.Error()})
		} else if svc.LatencyMs > 200 {
			// Slow but answering
			svc.Status = "degraded"
		}
		resp.Services = append(resp.Services, svc)
	}

	status := http.StatusOK
	if resp.Status != "operational" {
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, resp)
}

func (h *SystemHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}
