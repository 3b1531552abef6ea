package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/eponine0805/voice-app/internal/audio"
	"github.com/eponine0805/voice-app/internal/config"
	"github.com/eponine0805/voice-app/internal/session"
	"github.com/eponine0805/voice-app/internal/source"
	"github.com/eponine0805/voice-app/internal/store"
	"github.com/eponine0805/voice-app/internal/summary"
	"github.com/eponine0805/voice-app/internal/transcript"
	"github.com/eponine0805/voice-app/internal/transcription"
)

// app carries the loaded configuration and logger for one command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func setup(g *Globals) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if g.LogLevel != nil {
		cfg.Logging.Level = *g.LogLevel
	}
	return &app{cfg: cfg, logger: initLogger(cfg.Logging)}, nil
}

// quiet raises the log level so that logs do not disturb interactive output.
func (a *app) quiet() {
	switch a.cfg.Logging.Output {
	case "stderr", "stdout", "":
		lc := a.cfg.Logging
		lc.Level = "error"
		a.logger = initLogger(lc)
	}
}

func (a *app) transcriber() (transcription.Transcriber, error) {
	tc := a.cfg.Transcription
	return transcription.New(transcription.Config{
		Provider:      tc.Provider,
		Endpoint:      tc.Endpoint,
		APIKey:        tc.APIKey,
		Model:         tc.Model,
		Language:      tc.Language,
		Timeout:       tc.GetTimeoutDuration(),
		RequestFormat: tc.RequestFormat,
	}, a.logger)
}

func (a *app) summarizer() (summary.Summarizer, error) {
	sc := a.cfg.Summarization
	return summary.New(summary.Config{
		Provider: sc.Provider,
		Endpoint: sc.Endpoint,
		APIKey:   sc.APIKey,
		Model:    sc.Model,
		Timeout:  sc.GetTimeoutDuration(),
	}, a.logger)
}

// opener builds the live capture source; nil means live capture is disabled.
func (a *app) opener() source.Opener {
	cc := a.cfg.Capture

	var o source.Opener
	switch cc.Source {
	case config.SourceNone:
		return nil
	case config.SourceNetwork:
		o = &source.NetworkOpener{
			Address:        cc.NetworkAddress,
			ReadBufferSize: cc.ReadBufferSize,
			StartTimeout:   cc.GetStartTimeout(),
			Logger:         a.logger,
		}
	default:
		o = &source.CommandOpener{
			Command:      cc.Command,
			Format:       audio.Format{SampleRate: cc.SampleRate, Channels: cc.Channels},
			ProbeTimeout: cc.GetProbeTimeout(),
			Logger:       a.logger,
		}
	}
	return source.WithGain(o, float32(cc.Gain))
}

func (a *app) decoder() session.DecodeFunc {
	fc := a.cfg.File
	opts := source.DecodeOptions{
		FFmpegPath: fc.FFmpegPath,
		SampleRate: fc.SampleRate,
		Channels:   fc.Channels,
		Logger:     a.logger,
	}
	return func(ctx context.Context, data []byte) (*audio.Clip, error) {
		return source.DecodeFile(ctx, data, opts)
	}
}

// openStore opens the configured store, or returns nil when persistence is
// disabled.
func (a *app) openStore() (*store.Store, error) {
	if !a.cfg.Store.Enabled {
		return nil, nil
	}
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.logger.Info("Store opened", slog.String("path", a.cfg.Store.Path))
	return st, nil
}

func (a *app) placeholder() string {
	if p := a.cfg.Transcript.Placeholder; p != "" {
		return p
	}
	return transcript.DefaultPlaceholder
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// formatTranscript renders t with chunk time ranges, or as running text
// when plain is set.
func formatTranscript(t transcript.Transcript, placeholder string, plain bool) string {
	if plain {
		return t.Render(placeholder) + "\n"
	}
	return strings.Join(t.Lines(placeholder), "\n") + "\n"
}

// writeOutput writes body to path, or to stdout when path is empty.
func writeOutput(path, body string) error {
	if path == "" {
		_, err := io.WriteString(os.Stdout, body)
		return err
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
