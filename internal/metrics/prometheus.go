package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eponine0805/voice-app/internal/session"
	"github.com/eponine0805/voice-app/internal/transcript"
	"github.com/eponine0805/voice-app/internal/transcription"
)

// Metrics contains all Prometheus metrics for the minutes service
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	CapturedAudio    prometheus.Histogram

	// Chunk metrics
	ChunkResults          *prometheus.CounterVec
	ChunkDuration         prometheus.Histogram
	TranscriptionDuration prometheus.Histogram
	TranscriptEntries     prometheus.Histogram

	// Summarization metrics
	Summarizations *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	mu     sync.Mutex
	states map[string]session.State
}

var _ session.Observer = (*Metrics)(nil)

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "minutes_active_sessions",
			Help: "Current number of sessions that have not finished",
		}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_sessions_created_total",
			Help: "Total number of sessions created",
		}, []string{"mode"}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_sessions_finished_total",
			Help: "Total number of sessions that reached a terminal state",
		}, []string{"mode", "state"}),
		CapturedAudio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "minutes_session_audio_seconds",
			Help:    "Audio duration processed per finished session",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10), // 15s to ~2 hours
		}),

		// Chunk metrics
		ChunkResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_chunk_results_total",
			Help: "Total number of chunk results by outcome",
		}, []string{"outcome"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "minutes_chunk_duration_seconds",
			Help:    "Audio duration of transcribed chunks",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1s to ~4 minutes
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "minutes_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptEntries: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "minutes_transcript_entries",
			Help:    "Number of entries in finalized transcripts",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		// Summarization metrics
		Summarizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_summarizations_total",
			Help: "Total number of summarization attempts by outcome",
		}, []string{"outcome"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "minutes_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minutes_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),

		states: make(map[string]session.State),
	}
}

// SessionChanged tracks session lifecycle transitions.
func (m *Metrics) SessionChanged(s session.Snapshot) {
	m.mu.Lock()
	prev, seen := m.states[s.ID]
	m.states[s.ID] = s.State
	m.mu.Unlock()

	if !seen {
		m.SessionsCreated.WithLabelValues(string(s.Mode)).Inc()
		m.ActiveSessions.Inc()
	}
	if s.State.Terminal() && !prev.Terminal() {
		m.ActiveSessions.Dec()
		m.SessionsFinished.WithLabelValues(string(s.Mode), string(s.State)).Inc()
		m.CapturedAudio.Observe(s.Captured.Seconds())
	}
}

// ChunkCompleted records one chunk result.
func (m *Metrics) ChunkCompleted(_ string, r transcription.ChunkResult) {
	outcome := "success"
	if r.Failure != nil {
		outcome = string(r.Failure.Category)
	}
	m.ChunkResults.WithLabelValues(outcome).Inc()
	m.ChunkDuration.Observe((r.End - r.Start).Seconds())
	if r.Duration > 0 {
		m.TranscriptionDuration.Observe(r.Duration.Seconds())
	}
}

// SessionFinalized records transcript size.
func (m *Metrics) SessionFinalized(_ string, t transcript.Transcript) {
	m.TranscriptEntries.Observe(float64(t.Len()))
}

// SessionSummarized records a summarization attempt.
func (m *Metrics) SessionSummarized(_ string, _ string, err error) {
	m.RecordSummarization(err == nil)
}

// RecordSummarization records a summarization outside of a session, such
// as a call to the summarize endpoint.
func (m *Metrics) RecordSummarization(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.Summarizations.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
