package transcription

import (
	"fmt"
	"log/slog"
	"time"
)

// Providers selectable through Config.Provider.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// DefaultTimeout bounds a single transcription request.
const DefaultTimeout = 60 * time.Second

// Config contains transcription client configuration
type Config struct {
	Provider      string
	Endpoint      string // full URL for http, base URL for openai
	APIKey        string
	Model         string
	Language      string
	Timeout       time.Duration
	RequestFormat string // http only: "multipart" or "raw"
}

// New builds the backend named by cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Transcriber, error) {
	switch cfg.Provider {
	case ProviderHTTP, "":
		return NewClient(cfg, logger)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown transcription provider: %s", cfg.Provider)
	}
}
