// Package metrics exposes Prometheus metrics for the anonymization
// daemon: job outcomes, frame throughput, detection counts, and HTTP
// bandwidth.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all daemon collectors on a private registry, so
// constructing more than one instance (tests, embedded use) never
// trips duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	framesProcessed prometheus.Counter
	detectionsTotal *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	bytesReceived *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
}

// New creates and registers the daemon's collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediamask_jobs_total",
				Help: "Total anonymization jobs by terminal status",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mediamask_job_duration_seconds",
				Help:    "Wall-clock duration of completed anonymization jobs",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		framesProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mediamask_frames_processed_total",
				Help: "Total video frames run through the pipeline",
			},
		),
		detectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediamask_detections_total",
				Help: "Total regions redacted by detection class",
			},
			[]string{"class"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediamask_active_sessions",
				Help: "Currently open processing sessions (HTTP and WebSocket)",
			},
		),
		bytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediamask_http_request_bytes_total",
				Help: "Total bytes received in HTTP requests",
			},
			[]string{"method", "endpoint"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediamask_http_response_bytes_total",
				Help: "Total bytes sent in HTTP responses",
			},
			[]string{"method", "endpoint", "status"},
		),
	}

	m.registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.framesProcessed,
		m.detectionsTotal,
		m.activeSessions,
		m.bytesReceived,
		m.bytesSent,
	)
	return m
}

// RecordJob records one finished job with its terminal status
// ("completed", "failed", "aborted", "canceled") and duration
func (m *Metrics) RecordJob(status string, seconds float64) {
	m.jobsTotal.WithLabelValues(status).Inc()
	if status == "completed" {
		m.jobDuration.Observe(seconds)
	}
}

// AddFrames counts frames that reached the sink
func (m *Metrics) AddFrames(n int) {
	m.framesProcessed.Add(float64(n))
}

// AddDetections counts redacted regions for one class
func (m *Metrics) AddDetections(class string, n int) {
	if n > 0 {
		m.detectionsTotal.WithLabelValues(class).Add(float64(n))
	}
}

// SessionOpened increments the active session gauge
func (m *Metrics) SessionOpened() {
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge
func (m *Metrics) SessionClosed() {
	m.activeSessions.Dec()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware tracks request and response bandwidth per endpoint
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			m.bytesReceived.WithLabelValues(r.Method, r.URL.Path).Add(float64(r.ContentLength))
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		if rw.bytesWritten > 0 {
			status := fmt.Sprintf("%d", rw.statusCode)
			m.bytesSent.WithLabelValues(r.Method, r.URL.Path, status).Add(float64(rw.bytesWritten))
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack passes through so WebSocket upgrades work behind the middleware
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
