package summary

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/eponine0805/voice-app/internal/apperror"
)

// DefaultOpenAIModel is used when Config.Model is empty.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIClient summarizes through an OpenAI-compatible chat completion
// endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates a chat completion backend. Endpoint, when set,
// replaces the default base URL.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = cfg.Endpoint
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Summarize implements Summarizer.
func (c *OpenAIClient) Summarize(ctx context.Context, transcript string) (string, error) {
	if err := checkInput(transcript); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(transcript)},
		},
	})
	if err != nil {
		return "", apperror.SummarizationUnavailable("chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperror.SummarizationUnavailable("no choices returned", nil)
	}

	minutes, err := checkOutput(resp.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Summary received",
		slog.String("model", c.model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("elapsed", time.Since(start)),
	)
	return minutes, nil
}
