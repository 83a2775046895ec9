package server

import (
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sadewadee/phpembed/internal/websocket"
	"github.com/sadewadee/phpembed/internal/worker"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Metrics collects Prometheus-compatible metrics.
type Metrics struct {
	totalRequests  sync.Map // "method:status" -> *atomic.Int64
	activeRequests atomic.Int32
	totalBytes     atomic.Int64

	durationCounts []atomic.Int64 // per bucket, not cumulative
	durationSum    atomic.Int64
	durationCount  atomic.Int64

	engine Engine
	ws     *websocket.Manager
}

// NewMetrics creates a new metrics collector. ws may be nil.
func NewMetrics(engine Engine, ws *websocket.Manager) *Metrics {
	return &Metrics{
		engine:         engine,
		ws:             ws,
		durationCounts: make([]atomic.Int64, len(durationBuckets)),
	}
}

// Middleware returns a middleware that collects metrics and serves the metrics endpoint.
func (m *Metrics) Middleware(metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == metricsPath {
				m.serveMetrics(w)
				return
			}

			start := time.Now()
			m.activeRequests.Add(1)
			defer m.activeRequests.Add(-1)

			rw := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			m.observe(r.Method, rw.statusCode, rw.bytesWritten, time.Since(start))
		})
	}
}

func (m *Metrics) observe(method string, status, bytes int, d time.Duration) {
	key := fmt.Sprintf("%s:%d", method, status)
	counter, _ := m.totalRequests.LoadOrStore(key, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1)

	m.totalBytes.Add(int64(bytes))
	m.durationSum.Add(int64(d))
	m.durationCount.Add(1)

	sec := d.Seconds()
	for i, bucket := range durationBuckets {
		if sec <= bucket {
			m.durationCounts[i].Add(1)
			break
		}
	}
}

func (m *Metrics) serveMetrics(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var b strings.Builder
	m.writeTo(&b)
	w.Write([]byte(b.String()))
}

func metric(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func (m *Metrics) writeTo(b *strings.Builder) {
	metric(b, "phpembed_http_requests_total", "counter", "Total number of HTTP requests.")
	var keys []string
	m.totalRequests.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	slices.Sort(keys)
	for _, key := range keys {
		value, _ := m.totalRequests.Load(key)
		method, status, _ := strings.Cut(key, ":")
		fmt.Fprintf(b, "phpembed_http_requests_total{method=%q,status=%q} %d\n", method, status, value.(*atomic.Int64).Load())
	}

	metric(b, "phpembed_http_requests_active", "gauge", "Current number of active HTTP requests.")
	fmt.Fprintf(b, "phpembed_http_requests_active %d\n", m.activeRequests.Load())

	metric(b, "phpembed_http_response_bytes_total", "counter", "Total bytes sent in HTTP responses.")
	fmt.Fprintf(b, "phpembed_http_response_bytes_total %d\n", m.totalBytes.Load())

	metric(b, "phpembed_http_request_duration_seconds", "histogram", "HTTP request duration in seconds.")
	cumulative := int64(0)
	for i, bucket := range durationBuckets {
		cumulative += m.durationCounts[i].Load()
		fmt.Fprintf(b, "phpembed_http_request_duration_seconds_bucket{le=\"%g\"} %d\n", bucket, cumulative)
	}
	total := m.durationCount.Load()
	fmt.Fprintf(b, "phpembed_http_request_duration_seconds_bucket{le=\"+Inf\"} %d\n", total)
	fmt.Fprintf(b, "phpembed_http_request_duration_seconds_sum %.6f\n", float64(m.durationSum.Load())/float64(time.Second))
	fmt.Fprintf(b, "phpembed_http_request_duration_seconds_count %d\n", total)

	if m.engine != nil {
		stats := m.engine.Stats()
		metric(b, "phpembed_engine_jobs_total", "counter", "Jobs executed by the PHP engine.")
		fmt.Fprintf(b, "phpembed_engine_jobs_total %d\n", stats.TotalJobs)

		metric(b, "phpembed_engine_jobs", "gauge", "Jobs executed since the engine last started.")
		fmt.Fprintf(b, "phpembed_engine_jobs %d\n", stats.Jobs)

		metric(b, "phpembed_engine_recycles_total", "counter", "Times the PHP engine was restarted.")
		fmt.Fprintf(b, "phpembed_engine_recycles_total %d\n", stats.Recycles)

		metric(b, "phpembed_engine_busy", "gauge", "Whether the PHP engine is executing a job.")
		busy := 0
		if stats.State == worker.StateBusy {
			busy = 1
		}
		fmt.Fprintf(b, "phpembed_engine_busy %d\n", busy)
	}

	if m.ws != nil {
		stats := m.ws.Stats()
		metric(b, "phpembed_websocket_connections", "gauge", "Open WebSocket connections.")
		fmt.Fprintf(b, "phpembed_websocket_connections %d\n", stats.Connections)

		metric(b, "phpembed_websocket_frames_total", "counter", "Frames executed over WebSocket.")
		fmt.Fprintf(b, "phpembed_websocket_frames_total %d\n", stats.Frames)

		metric(b, "phpembed_websocket_errors_total", "counter", "Frames answered with an error.")
		fmt.Fprintf(b, "phpembed_websocket_errors_total %d\n", stats.Errors)
	}

	metric(b, "phpembed_go_goroutines", "gauge", "Number of goroutines.")
	fmt.Fprintf(b, "phpembed_go_goroutines %d\n", runtime.NumGoroutine())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metric(b, "phpembed_go_memstats_alloc_bytes", "gauge", "Number of bytes allocated.")
	fmt.Fprintf(b, "phpembed_go_memstats_alloc_bytes %d\n", mem.Alloc)
}
