package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/sadewadee/phpembed/internal/worker"
)

var startTime = time.Now()

type liveness struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type readiness struct {
	Status        string      `json:"status"`
	Uptime        string      `json:"uptime"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	Engine        engineState `json:"engine"`
	GoVersion     string      `json:"go_version"`
	Goroutines    int         `json:"goroutines"`
	HeapAllocMB   uint64      `json:"heap_alloc_mb"`
}

type engineState struct {
	State      string   `json:"state"`
	PHPVersion string   `json:"php_version"`
	Jobs       int64    `json:"jobs"`
	JobsTotal  int64    `json:"jobs_total"`
	MaxJobs    int      `json:"max_jobs"`
	Recycles   int64    `json:"recycles"`
	LastJobAt  string   `json:"last_job_at,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
}

// HealthHandler serves /healthz (the process is up) and /readyz (the
// engine thread accepts jobs).
type HealthHandler struct {
	engine Engine
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(engine Engine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(startTime)
	if r.URL.Path != "/ready" && r.URL.Path != "/readyz" {
		writeJSON(w, http.StatusOK, liveness{Status: "ok", Uptime: uptime.String()})
		return
	}

	stats := h.engine.Stats()
	body := readiness{
		Status:        "ready",
		Uptime:        uptime.String(),
		UptimeSeconds: uptime.Seconds(),
		Engine: engineState{
			State:      stats.State.String(),
			PHPVersion: stats.PHPVersion,
			Jobs:       stats.Jobs,
			JobsTotal:  stats.TotalJobs,
			MaxJobs:    stats.MaxJobs,
			Recycles:   stats.Recycles,
			Extensions: stats.Extensions,
		},
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}
	if !stats.LastJobAt.IsZero() {
		body.Engine.LastJobAt = stats.LastJobAt.Format(time.RFC3339)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	body.HeapAllocMB = mem.HeapAlloc >> 20

	status := http.StatusOK
	if stats.State == worker.StateStopped {
		status = http.StatusServiceUnavailable
		body.Status = "not_ready"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
