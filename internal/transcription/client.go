package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eponine0805/voice-app/internal/audio"
)

// Request body encodings understood by Client.
const (
	FormatMultipart = "multipart" // chunk sent as form file "file" plus metadata fields
	FormatRaw       = "raw"       // chunk bytes are the body, Content-Type is the media type
)

// Client transcribes chunks through an HTTP endpoint that answers with a
// JSON object carrying a "text" field.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	stats
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	switch config.RequestFormat {
	case "":
		config.RequestFormat = FormatMultipart
	case FormatMultipart, FormatRaw:
	default:
		return nil, fmt.Errorf("unsupported request format: %s", config.RequestFormat)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: newHTTPClient(config.Timeout),
		logger:     logger,
	}, nil
}

// Transcribe sends one chunk. There are no retries: a failed attempt is
// returned as a placeholder result.
func (c *Client) Transcribe(ctx context.Context, chunk audio.EncodedChunk) ChunkResult {
	startTime := time.Now()
	c.begin()

	text, err := c.doRequest(ctx, chunk)
	elapsed := time.Since(startTime)

	if err != nil {
		category := categorize(ctx, err)
		c.finish(false, elapsed)
		c.logger.Warn("Chunk transcription failed",
			slog.Int("chunk_index", chunk.Index),
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		result := Failed(chunk, category, err.Error())
		result.Duration = elapsed
		return result
	}

	c.finish(true, elapsed)
	c.logger.Debug("Chunk transcribed",
		slog.Int("chunk_index", chunk.Index),
		slog.Int("text_length", len(text)),
		slog.Duration("elapsed", elapsed),
	)
	result := Succeeded(chunk, text)
	result.Duration = elapsed
	return result
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, chunk audio.EncodedChunk) (string, error) {
	var (
		body        io.Reader
		contentType string
		err         error
	)
	if c.config.RequestFormat == FormatRaw {
		body, contentType = bytes.NewReader(chunk.Data), chunk.MediaType
	} else {
		body, contentType, err = c.createMultipartRequest(chunk)
		if err != nil {
			return "", fmt.Errorf("failed to create multipart request: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "voice-app/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode, body: truncate(string(bytes.TrimSpace(respBody)), 200)}
	}

	return parseResponse(respBody)
}

const maxResponseBytes = 1 << 20

// parseResponse extracts the text field. A missing or non-string text is
// malformed; an empty string is a valid silent chunk.
func parseResponse(body []byte) (string, error) {
	var payload struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &malformedError{reason: err.Error()}
	}
	if payload.Text == nil {
		return "", &malformedError{reason: "missing text field"}
	}
	return *payload.Text, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(chunk audio.EncodedChunk) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", chunk.Filename())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(chunk.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"chunk_index", strconv.Itoa(chunk.Index)},
		{"media_type", chunk.MediaType},
		{"sample_rate", strconv.Itoa(chunk.Format.SampleRate)},
		{"channels", strconv.Itoa(chunk.Format.Channels)},
		{"start", fmt.Sprintf("%.3f", chunk.Start.Seconds())},
		{"duration", fmt.Sprintf("%.3f", (chunk.End - chunk.Start).Seconds())},
		{"request_id", uuid.NewString()},
	}
	if c.config.Language != "" {
		fields = append(fields, [2]string{"language", c.config.Language})
	}
	if c.config.Model != "" {
		fields = append(fields, [2]string{"model", c.config.Model})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
