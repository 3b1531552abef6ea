package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eponine0805/voice-app/internal/metrics"
	"github.com/eponine0805/voice-app/internal/server"
	"github.com/eponine0805/voice-app/internal/session"
	"github.com/eponine0805/voice-app/internal/store"
	"github.com/eponine0805/voice-app/internal/summary"
)

// ServeCmd runs the HTTP API service.
type ServeCmd struct{}

func (s *ServeCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", g.Config),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("capture_source", cfg.Capture.Source),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Float64("live_segment", cfg.Capture.SegmentDuration),
		slog.Float64("file_segment", cfg.File.SegmentDuration),
		slog.String("transcription_provider", cfg.Transcription.Provider),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("summarization_enabled", cfg.Summarization.Enabled),
		slog.Bool("store_enabled", cfg.Store.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	st, err := a.openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	tr, err := a.transcriber()
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}

	var sum summary.Summarizer
	if cfg.Summarization.Enabled {
		if sum, err = a.summarizer(); err != nil {
			return fmt.Errorf("failed to create summarizer: %w", err)
		}
	}

	observers := session.Observers{appMetrics}
	recordingsDir := ""
	if st != nil {
		observers = append(observers, store.NewRecorder(st, logger, a.placeholder()))
		recordingsDir = cfg.Store.RecordingsDir
	}

	sessions, err := session.NewManager(logger, session.ManagerConfig{
		Opener:          a.opener(),
		Decode:          a.decoder(),
		Transcriber:     tr,
		Summarizer:      sum,
		LiveSegment:     cfg.Capture.GetSegmentDuration(),
		FileSegment:     cfg.File.GetSegmentDuration(),
		RecordingsDir:   recordingsDir,
		Retention:       cfg.Session.GetRetentionDuration(),
		CleanupInterval: cfg.Session.GetCleanupInterval(),
		Observer:        observers,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	logger.Info("Session manager initialized",
		slog.Duration("retention", cfg.Session.GetRetentionDuration()),
	)

	if !cfg.HTTP.Enabled {
		logger.Warn("HTTP API disabled, nothing to serve")
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger, server.Dependencies{
			Config:     cfg,
			Sessions:   sessions,
			Store:      st,
			Summarizer: sum,
			Metrics:    appMetrics,
		})
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop live capture and let pending chunks drain
	sessions.Stop(shutdownCtx)

	if ts, ok := sessions.GetTranscriptionStats(); ok {
		logger.Info("Final transcription statistics",
			slog.Uint64("total_requests", ts.TotalRequests),
			slog.Uint64("success_requests", ts.SuccessRequests),
			slog.Uint64("failed_requests", ts.FailedRequests),
			slog.Duration("avg_response_time", ts.AvgResponseTime),
		)
	}

	logger.Info("Service stopped")
	return nil
}
