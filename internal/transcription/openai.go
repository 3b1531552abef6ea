package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/eponine0805/voice-app/internal/audio"
)

// OpenAIClient transcribes chunks through an OpenAI-compatible
// /audio/transcriptions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	lang   string
	logger *slog.Logger
	stats
}

// NewOpenAIClient creates a Whisper backend. Endpoint, when set, replaces
// the default base URL so local OpenAI-compatible servers can be used.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = cfg.Endpoint
	}
	oc.HTTPClient = newHTTPClient(cfg.Timeout)

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		lang:   cfg.Language,
		logger: logger,
	}, nil
}

// Transcribe implements Transcriber.
func (c *OpenAIClient) Transcribe(ctx context.Context, chunk audio.EncodedChunk) ChunkResult {
	startTime := time.Now()
	c.begin()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: chunk.Filename(),
		Reader:   bytes.NewReader(chunk.Data),
		Language: c.lang,
		Format:   openai.AudioResponseFormatJSON,
	})
	elapsed := time.Since(startTime)

	if err != nil {
		category := categorizeOpenAI(ctx, err)
		c.finish(false, elapsed)
		c.logger.Warn("Chunk transcription failed",
			slog.Int("chunk_index", chunk.Index),
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
		result := Failed(chunk, category, err.Error())
		result.Duration = elapsed
		return result
	}

	c.finish(true, elapsed)
	c.logger.Debug("Chunk transcribed",
		slog.Int("chunk_index", chunk.Index),
		slog.Int("text_length", len(resp.Text)),
		slog.Duration("elapsed", elapsed),
	)
	result := Succeeded(chunk, resp.Text)
	result.Duration = elapsed
	return result
}

func categorizeOpenAI(ctx context.Context, err error) FailureCategory {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return FailureStatus
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return FailureStatus
	}
	return FailureTransport
}
