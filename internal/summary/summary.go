package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
)

// Providers selectable through Config.Provider.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// DefaultTimeout bounds a single summarization request.
const DefaultTimeout = 120 * time.Second

// Summarizer produces minutes from transcript text. Every failure is an
// apperror.KindSummarizationUnavailable.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Config contains summarization client configuration
type Config struct {
	Provider string
	Endpoint string // full URL for http, base URL for openai
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New builds the backend named by cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Summarizer, error) {
	switch cfg.Provider {
	case ProviderHTTP, "":
		return NewHTTPClient(cfg, logger)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown summarization provider: %s", cfg.Provider)
	}
}

// checkInput rejects transcripts with nothing to summarize.
func checkInput(transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return apperror.SummarizationUnavailable("transcript is empty", nil)
	}
	return nil
}

// checkOutput rejects empty minutes.
func checkOutput(minutes string) (string, error) {
	minutes = strings.TrimSpace(minutes)
	if minutes == "" {
		return "", apperror.SummarizationUnavailable("empty summary returned", nil)
	}
	return minutes, nil
}
