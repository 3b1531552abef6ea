package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/config"
	"github.com/eponine0805/voice-app/internal/metrics"
	"github.com/eponine0805/voice-app/internal/session"
	"github.com/eponine0805/voice-app/internal/source"
	"github.com/eponine0805/voice-app/internal/store"
	"github.com/eponine0805/voice-app/internal/summary"
	"github.com/eponine0805/voice-app/internal/transcript"
)

// HTTPServer provides the session API plus monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessions   *session.Manager
	store      *store.Store // optional
	summarizer summary.Summarizer
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer

	startTime time.Time
}

// Dependencies wires the HTTP server to the rest of the service.
type Dependencies struct {
	Config     *config.Config
	Sessions   *session.Manager
	Store      *store.Store       // optional, serves sessions no longer in memory
	Summarizer summary.Summarizer // optional, backs /api/summarize
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // nil means the default gatherer
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(logger *slog.Logger, deps Dependencies) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:     logger,
		config:     deps.Config,
		sessions:   deps.Sessions,
		store:      deps.Store,
		summarizer: deps.Summarizer,
		metrics:    deps.Metrics,
		gatherer:   gatherer,
		startTime:  time.Now(),
	}

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", deps.Config.HTTP.Address, deps.Config.HTTP.Port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the routed handler.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	mux.HandleFunc("POST /api/sessions", h.withMetrics("/api/sessions", h.handleCreateLive))
	mux.HandleFunc("GET /api/sessions", h.withMetrics("/api/sessions", h.handleListSessions))
	mux.HandleFunc("GET /api/sessions/{id}", h.withMetrics("/api/sessions/{id}", h.handleSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", h.withMetrics("/api/sessions/{id}", h.handleRemoveSession))
	mux.HandleFunc("POST /api/sessions/{id}/stop", h.withMetrics("/api/sessions/{id}/stop", h.handleStopSession))
	mux.HandleFunc("POST /api/sessions/{id}/summarize", h.withMetrics("/api/sessions/{id}/summarize", h.handleSummarizeSession))
	mux.HandleFunc("GET /api/sessions/{id}/transcript", h.withMetrics("/api/sessions/{id}/transcript", h.handleTranscript))
	mux.HandleFunc("GET /api/sessions/{id}/minutes", h.withMetrics("/api/sessions/{id}/minutes", h.handleMinutes))
	mux.HandleFunc("GET /api/sessions/{id}/recording", h.withMetrics("/api/sessions/{id}/recording", h.handleRecording))
	mux.HandleFunc("POST /api/files", h.withMetrics("/api/files", h.handleUpload))

	if h.summarizer != nil {
		counted := &countingSummarizer{Summarizer: h.summarizer, metrics: h.metrics}
		mux.Handle("/api/summarize", h.withMetrics("/api/summarize", summary.Handler(counted, h.logger).ServeHTTP))
	}

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
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
	h.logger.Info("Starting HTTP API server",
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
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string        `json:"error"`
	Kind  apperror.Kind `json:"kind,omitempty"`
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write JSON response",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	if status >= 500 {
		h.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: apperror.KindOf(err)})
}

func (h *HTTPServer) writeText(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := io.WriteString(w, body); err != nil {
		h.logger.Debug("Failed to write text response",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"sessions": map[string]interface{}{
			"status": "running",
			"active": h.sessions.GetActiveSessionCount(),
		},
	}
	if stats, ok := h.sessions.GetTranscriptionStats(); ok {
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}
	if h.store != nil {
		components["store"] = map[string]interface{}{"status": "running"}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voice-app",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config
	// API keys are intentionally omitted.
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"capture": map[string]interface{}{
			"source":           c.Capture.Source,
			"sample_rate":      c.Capture.SampleRate,
			"channels":         c.Capture.Channels,
			"segment_duration": c.Capture.SegmentDuration,
			"gain":             c.Capture.Gain,
			"network_address":  c.Capture.NetworkAddress,
		},
		"file": map[string]interface{}{
			"segment_duration": c.File.SegmentDuration,
			"sample_rate":      c.File.SampleRate,
			"channels":         c.File.Channels,
			"max_upload_bytes": c.File.MaxUploadBytes,
		},
		"transcription": map[string]interface{}{
			"provider":       c.Transcription.Provider,
			"endpoint":       c.Transcription.Endpoint,
			"model":          c.Transcription.Model,
			"language":       c.Transcription.Language,
			"timeout":        c.Transcription.Timeout,
			"request_format": c.Transcription.RequestFormat,
		},
		"summarization": map[string]interface{}{
			"enabled":  c.Summarization.Enabled,
			"provider": c.Summarization.Provider,
			"endpoint": c.Summarization.Endpoint,
			"model":    c.Summarization.Model,
			"timeout":  c.Summarization.Timeout,
		},
		"transcript": map[string]interface{}{
			"placeholder": c.Transcript.Placeholder,
		},
		"session": map[string]interface{}{
			"retention":        c.Session.Retention,
			"cleanup_interval": c.Session.CleanupInterval,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	list := h.sessions.List()
	byState := make(map[session.State]int)
	emitted, failed := 0, 0
	var capture map[string]*session.CaptureStats
	for _, s := range list {
		byState[s.State]++
		emitted += s.ChunksEmitted
		failed += s.ChunksFailed
		if s.State == session.StateCapturing && s.Capture != nil {
			if capture == nil {
				capture = make(map[string]*session.CaptureStats)
			}
			capture[s.ID] = s.Capture
		}
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"total":    len(list),
			"active":   h.sessions.GetActiveSessionCount(),
			"by_state": byState,
		},
		"chunks": map[string]interface{}{
			"emitted": emitted,
			"failed":  failed,
		},
	}
	if ts, ok := h.sessions.GetTranscriptionStats(); ok {
		stats["transcription"] = ts
	}
	if capture != nil {
		stats["capture"] = capture
	}

	h.writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPServer) handleCreateLive(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.CreateLive(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (h *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": h.sessions.GetActiveSessionCount(),
		"timestamp":      time.Now().UTC(),
		"sessions":       h.sessions.List(),
	})
}

func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := h.sessions.Get(id)
	if err == nil {
		h.writeJSON(w, http.StatusOK, c.Snapshot())
		return
	}

	if h.store != nil {
		if sess, serr := h.store.Session(r.Context(), id); serr == nil {
			h.writeJSON(w, http.StatusOK, archivedSnapshot(sess))
			return
		} else if !errors.Is(serr, store.ErrNotFound) {
			h.writeError(w, r, serr)
			return
		}
	}
	h.writeError(w, r, err)
}

// archivedSnapshot presents a persisted session in snapshot form.
func archivedSnapshot(s *store.Session) session.Snapshot {
	return session.Snapshot{
		ID:              s.ID,
		Mode:            session.Mode(s.Mode),
		State:           session.State(s.State),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		ChunksEmitted:   s.ChunksEmitted,
		ChunksCompleted: s.ChunksCompleted,
		ChunksFailed:    s.ChunksFailed,
		Captured:        s.Captured,
		Error:           s.Error,
		ErrorKind:       apperror.Kind(s.ErrorKind),
	}
}

func (h *HTTPServer) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.sessions.Remove(id) {
		h.writeError(w, r, apperror.NotFound("session", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) handleStopSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := c.Stop(); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, c.Snapshot())
}

func (h *HTTPServer) handleSummarizeSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	minutes, err := c.Summarize(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary.Response{Summary: minutes})
}

func (h *HTTPServer) placeholder() string {
	if p := h.config.Transcript.Placeholder; p != "" {
		return p
	}
	return transcript.DefaultPlaceholder
}

// handleTranscript exports the finalized transcript as text. Lines carry
// chunk time ranges unless ?timestamps=false is given.
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	plain := r.URL.Query().Get("timestamps") == "false"

	if c, err := h.sessions.Get(id); err == nil {
		t, ok := c.Transcript()
		if !ok {
			h.writeError(w, r, apperror.InvalidState(fmt.Sprintf("session is %s, no transcript yet", c.State())))
			return
		}
		body := t.Render(h.placeholder())
		if !plain {
			body = strings.Join(t.Lines(h.placeholder()), "\n")
		}
		h.writeText(w, "transcript-"+id+".txt", body+"\n")
		return
	}

	if h.store != nil {
		t, err := h.store.Transcript(r.Context(), id)
		if err == nil {
			body := t.Rendered
			if plain {
				body = t.Text
			}
			h.writeText(w, "transcript-"+id+".txt", body+"\n")
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.writeError(w, r, err)
			return
		}
	}
	h.writeError(w, r, apperror.NotFound("transcript", id))
}

func (h *HTTPServer) handleMinutes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if c, err := h.sessions.Get(id); err == nil {
		if minutes, ok := c.Minutes(); ok {
			h.writeText(w, "minutes-"+id+".txt", minutes)
			return
		}
	}

	if h.store != nil {
		sum, err := h.store.LatestSummary(r.Context(), id)
		if err == nil {
			h.writeText(w, "minutes-"+id+".txt", sum.Content)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.writeError(w, r, err)
			return
		}
	}
	h.writeError(w, r, apperror.NotFound("minutes", id))
}

func (h *HTTPServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := h.sessions.Get(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	path, ok := c.RecordingPath()
	if !ok {
		h.writeError(w, r, apperror.NotFound("recording", id))
		return
	}
	if !c.State().Terminal() {
		h.writeError(w, r, apperror.InvalidState("recording is still being written"))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "recording-"+id+".wav"))
	http.ServeFile(w, r, path)
}

// handleUpload accepts a multipart "file" field and starts a file session.
func (h *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := h.config.File.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
			return
		}
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if int64(len(data)) > limit {
		h.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
		return
	}

	declared := source.ContentTypeFromExtension(header.Filename)
	detected := source.Identify(data).ContentType
	if declared != detected && declared != source.ContainerUnknown.ContentType && detected != source.ContainerUnknown.ContentType {
		h.logger.Warn("Upload extension does not match its content",
			slog.String("filename", header.Filename),
			slog.String("declared", declared),
			slog.String("detected", detected),
		)
	}

	c, err := h.sessions.CreateFile(data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("File uploaded",
		slog.String("session_id", c.ID()),
		slog.String("filename", header.Filename),
		slog.String("content_type", detected),
		slog.Int("size", len(data)),
	)
	h.writeJSON(w, http.StatusAccepted, c.Snapshot())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Meeting Minutes Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                             "API documentation",
			"GET /health":                       "Service health check",
			"GET /config":                       "Get service configuration",
			"GET /stats":                        "Get service statistics",
			"GET /metrics":                      "Prometheus metrics",
			"POST /api/sessions":                "Start a live capture session",
			"GET /api/sessions":                 "List sessions",
			"GET /api/sessions/{id}":            "Get a session snapshot",
			"DELETE /api/sessions/{id}":         "Abort and forget a session",
			"POST /api/sessions/{id}/stop":      "Stop live capture and drain",
			"POST /api/sessions/{id}/summarize": "Generate minutes from the transcript",
			"GET /api/sessions/{id}/transcript": "Download the transcript",
			"GET /api/sessions/{id}/minutes":    "Download the minutes",
			"GET /api/sessions/{id}/recording":  "Download the recording",
			"POST /api/files":                   "Upload a recording for transcription",
			"POST /api/summarize":               "Summarize a plain-text transcript",
		},
		"timestamp": time.Now().UTC(),
	})
}

// countingSummarizer records summarize endpoint calls in metrics.
type countingSummarizer struct {
	summary.Summarizer
	metrics *metrics.Metrics
}

func (c *countingSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	minutes, err := c.Summarizer.Summarize(ctx, transcript)
	if c.metrics != nil {
		c.metrics.RecordSummarization(err == nil)
	}
	return minutes, err
}
