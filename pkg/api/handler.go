// Package api exposes the daemon's HTTP and WebSocket surface: the
// synchronous processing endpoints, the duplex streaming session, and
// the health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mediamask/mediamask/pkg/detect"
	"github.com/mediamask/mediamask/pkg/logging"
	"github.com/mediamask/mediamask/pkg/metrics"
	"github.com/mediamask/mediamask/pkg/models"
	"github.com/mediamask/mediamask/pkg/pipeline"
)

// JobRunner executes anonymization jobs. The production implementation
// is *pipeline.Runner; tests substitute a scripted one.
type JobRunner interface {
	Process(ctx context.Context, video []byte, filename string, opts models.JobOptions, reporter pipeline.ProgressReporter) (*models.JobResult, error)
	Probe(ctx context.Context, video []byte, filename string) (*models.VideoInfo, error)
}

// Pinger reports inference service liveness for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles anonymization API requests
type Handler struct {
	runner         JobRunner
	detector       detect.Detector
	pinger         Pinger
	metrics        *metrics.Metrics
	logger         *logging.Logger
	maxUploadBytes int64
	upgrader       websocket.Upgrader
	startTime      time.Time
}

// NewHandler creates the API handler. detector serves the single-image
// path and the health probe; jobs go through runner.
func NewHandler(runner JobRunner, detector detect.Detector, m *metrics.Metrics, logger *logging.Logger, maxUploadBytes int64) *Handler {
	h := &Handler{
		runner:         runner,
		detector:       detector,
		metrics:        m,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The daemon binds to localhost; cross-origin browser pages
			// are expected during local development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
	if p, ok := detector.(Pinger); ok {
		h.pinger = p
	}
	return h
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/process-video", h.ProcessVideo).Methods("POST")
	r.HandleFunc("/video-info", h.VideoInfo).Methods("POST")
	r.HandleFunc("/process-image", h.ProcessImage).Methods("POST")
	r.HandleFunc("/ws/process-video", h.ProcessVideoWS)
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a pipeline error to an HTTP status and JSON body
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if h.logger != nil {
		h.logger.Error("Request failed", map[string]interface{}{"error": err.Error()})
	}
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

// statusForError picks the response status from the pipeline error kind
func statusForError(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	switch pipeline.KindOf(err) {
	case pipeline.KindValidation, pipeline.KindDecode:
		return http.StatusBadRequest
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindDetection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
