package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/realtime-asr-service/internal/config"
	"github.com/skypro1111/realtime-asr-service/internal/metrics"
	"github.com/skypro1111/realtime-asr-service/internal/session"
)

// HTTPServer provides HTTP endpoints for monitoring the transcription session
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	session *session.Session
	metrics *metrics.Metrics

	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new monitoring HTTP server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sess *session.Session, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		session:   sess,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session snapshot: lifecycle state, cancel state, chunk counts
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))

	// Assembled transcripts so far
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		h.metrics.RecordHTTPRequest(endpoint, fmt.Sprintf("%d", ww.statusCode), time.Since(startTime))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP monitoring server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP monitoring server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.session.Snapshot()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "realtime-asr-service",
			"version": "1.0.0",
		},
		"session": map[string]interface{}{
			"state":        info.State,
			"cancel_state": info.CancelState,
			"auth_halted":  info.AuthHalted,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"session":   h.session.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleTranscript implements the /transcript endpoint
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, formatted := h.session.Transcripts()

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"raw":       raw,
		"formatted": formatted,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Sanitized configuration: API keys are intentionally omitted
	sanitizedConfig := map[string]interface{}{
		"audio": map[string]interface{}{
			"sample_rate": h.config.Audio.SampleRate,
			"language":    h.config.Audio.Language,
		},
		"boundary": map[string]interface{}{
			"noise_floor":   h.config.Boundary.NoiseFloor,
			"long_silence":  h.config.Boundary.LongSilence,
			"short_silence": h.config.Boundary.ShortSilence,
		},
		"segmenter": map[string]interface{}{
			"min_chunk_duration":   h.config.Segmenter.MinChunkDuration,
			"silence_check_start":  h.config.Segmenter.SilenceCheckStart,
			"priority_split_start": h.config.Segmenter.PrioritySplitStart,
			"max_chunk_duration":   h.config.Segmenter.MaxChunkDuration,
			"search_window":        h.config.Segmenter.SearchWindow,
			"overlaps":             h.config.Segmenter.Overlaps,
		},
		"pipeline": map[string]interface{}{
			"workers":        h.config.Pipeline.Workers,
			"format_enabled": h.config.Pipeline.FormatEnabled,
			"reclaim_every":  h.config.Pipeline.ReclaimEvery,
			"queue_size":     h.config.Pipeline.QueueSize,
		},
		"asr": map[string]interface{}{
			"endpoint":       h.config.ASR.Endpoint,
			"model":          h.config.ASR.Model,
			"timeout":        h.config.ASR.Timeout,
			"max_concurrent": h.config.ASR.MaxConcurrent,
		},
		"formatter": map[string]interface{}{
			"model":   h.config.Formatter.Model,
			"timeout": h.config.Formatter.Timeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with endpoint documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Realtime Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":           "API documentation",
			"GET /health":     "Service health check",
			"GET /status":     "Session snapshot with chunk counts",
			"GET /transcript": "Assembled raw and formatted transcripts",
			"GET /config":     "Sanitized service configuration",
			"GET /metrics":    "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
