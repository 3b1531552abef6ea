package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
)

// HTTPClient posts the plain transcript to an endpoint that answers with
// {"summary": "..."} on success or {"error": "..."} on failure.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a summarization client for a plain HTTP endpoint.
func NewHTTPClient(cfg Config, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Response is the wire shape of the summarize endpoint.
type Response struct {
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Summarize implements Summarizer.
func (c *HTTPClient) Summarize(ctx context.Context, transcript string) (string, error) {
	if err := checkInput(transcript); err != nil {
		return "", err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, strings.NewReader(transcript))
	if err != nil {
		return "", apperror.SummarizationUnavailable("failed to create request", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperror.SummarizationUnavailable("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", apperror.SummarizationUnavailable("failed to read response", err)
	}

	var payload Response
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := payload.Error
		if decodeErr != nil || msg == "" {
			msg = string(bytes.TrimSpace(body))
		}
		return "", apperror.SummarizationUnavailable(fmt.Sprintf("HTTP error %d", resp.StatusCode), fmt.Errorf("%s", msg))
	}
	if decodeErr != nil {
		return "", apperror.SummarizationUnavailable("malformed response", decodeErr)
	}

	minutes, err := checkOutput(payload.Summary)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Summary received",
		slog.Int("transcript_length", len(transcript)),
		slog.Int("summary_length", len(minutes)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return minutes, nil
}
