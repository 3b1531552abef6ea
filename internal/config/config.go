package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	File          FileConfig          `yaml:"file"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	Store         StoreConfig         `yaml:"store"`
	Session       SessionConfig       `yaml:"session"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// Capture sources.
const (
	SourceCommand = "command"
	SourceNetwork = "network"
	SourceNone    = "none"
)

// CaptureConfig contains live capture parameters
type CaptureConfig struct {
	Source          string   `yaml:"source"` // command, network or none
	Command         []string `yaml:"command"`
	SampleRate      int      `yaml:"sample_rate"`
	Channels        int      `yaml:"channels"`
	SegmentDuration float64  `yaml:"segment_duration"` // seconds
	Gain            float64  `yaml:"gain"`
	ProbeTimeout    float64  `yaml:"probe_timeout"` // seconds
	NetworkAddress  string   `yaml:"network_address"`
	ReadBufferSize  int      `yaml:"read_buffer_size"`
	StartTimeout    float64  `yaml:"start_timeout"` // seconds
}

// FileConfig contains uploaded file processing parameters
type FileConfig struct {
	SegmentDuration float64 `yaml:"segment_duration"` // seconds
	FFmpegPath      string  `yaml:"ffmpeg_path"`
	SampleRate      int     `yaml:"sample_rate"` // target rate for transcoded input
	Channels        int     `yaml:"channels"`
	MaxUploadBytes  int64   `yaml:"max_upload_bytes"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Provider      string `yaml:"provider"` // http or openai
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"`        // seconds
	RequestFormat string `yaml:"request_format"` // multipart or raw
}

// SummarizationConfig contains summarization API configuration
type SummarizationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // http or openai
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// TranscriptConfig controls transcript rendering
type TranscriptConfig struct {
	Placeholder string `yaml:"placeholder"`
}

// StoreConfig contains persistence configuration
type StoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RecordingsDir string `yaml:"recordings_dir"`
}

// SessionConfig contains session retention configuration
type SessionConfig struct {
	Retention       int `yaml:"retention"`        // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a complete working configuration.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:          SourceCommand,
			Command:         []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", "16000", "-c", "1"},
			SampleRate:      16000,
			Channels:        1,
			SegmentDuration: 15,
			Gain:            2.0,
			ProbeTimeout:    3,
			NetworkAddress:  "0.0.0.0:4444",
			ReadBufferSize:  1 << 20,
			StartTimeout:    30,
		},
		File: FileConfig{
			SegmentDuration: 180,
			FFmpegPath:      "ffmpeg",
			SampleRate:      16000,
			Channels:        1,
			MaxUploadBytes:  200 << 20,
		},
		Transcription: TranscriptionConfig{
			Provider:      "http",
			Endpoint:      "http://127.0.0.1:9000/transcribe",
			Timeout:       60,
			RequestFormat: "multipart",
		},
		Summarization: SummarizationConfig{
			Enabled:  true,
			Provider: "http",
			Endpoint: "http://127.0.0.1:9000/summarize",
			Timeout:  120,
		},
		Transcript: TranscriptConfig{
			Placeholder: "[エラー]",
		},
		Store: StoreConfig{
			Enabled:       true,
			Path:          "./data/minutes.sqlite",
			RecordingsDir: "./data/recordings",
		},
		Session: SessionConfig{
			Retention:       3600,
			CleanupInterval: 30,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadEnv loads the given .env files into the process environment.
// Missing files are skipped; variables already set are not overridden.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration file on top of Default. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.expandSecrets()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// expandSecrets resolves ${VAR} references in credentials and endpoints.
func (c *Config) expandSecrets() {
	c.Transcription.APIKey = os.ExpandEnv(c.Transcription.APIKey)
	c.Transcription.Endpoint = os.ExpandEnv(c.Transcription.Endpoint)
	c.Summarization.APIKey = os.ExpandEnv(c.Summarization.APIKey)
	c.Summarization.Endpoint = os.ExpandEnv(c.Summarization.Endpoint)
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.File.Validate(); err != nil {
		return fmt.Errorf("file config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Summarization.Validate(); err != nil {
		return fmt.Errorf("summarization config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case SourceNone:
		return nil
	case SourceCommand:
		if len(c.Command) == 0 {
			return fmt.Errorf("command cannot be empty for the command source")
		}
		if c.SampleRate < 1 {
			return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
		}
		if c.Channels < 1 || c.Channels > 8 {
			return fmt.Errorf("channels must be between 1 and 8, got %d", c.Channels)
		}
	case SourceNetwork:
		if c.NetworkAddress == "" {
			return fmt.Errorf("network_address cannot be empty for the network source")
		}
		if c.StartTimeout <= 0 {
			return fmt.Errorf("start_timeout must be positive, got %f", c.StartTimeout)
		}
	default:
		return fmt.Errorf("source must be one of [command, network, none], got '%s'", c.Source)
	}

	if c.SegmentDuration <= 0 {
		return fmt.Errorf("segment_duration must be positive, got %f", c.SegmentDuration)
	}

	if c.Gain <= 0 {
		return fmt.Errorf("gain must be positive, got %f", c.Gain)
	}

	return nil
}

// Validate validates file configuration
func (f *FileConfig) Validate() error {
	if f.SegmentDuration <= 0 {
		return fmt.Errorf("segment_duration must be positive, got %f", f.SegmentDuration)
	}

	if f.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if f.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", f.SampleRate)
	}

	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", f.Channels)
	}

	if f.MaxUploadBytes < 1024 {
		return fmt.Errorf("max_upload_bytes must be at least 1024, got %d", f.MaxUploadBytes)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
		if t.APIKey == "" && t.Endpoint == "" {
			return fmt.Errorf("openai provider needs an api_key or an endpoint")
		}
	default:
		return fmt.Errorf("provider must be 'http' or 'openai', got '%s'", t.Provider)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	validFormats := map[string]bool{"multipart": true, "raw": true, "": true}
	if !validFormats[t.RequestFormat] {
		return fmt.Errorf("request_format must be 'multipart' or 'raw', got '%s'", t.RequestFormat)
	}

	return nil
}

// Validate validates summarization configuration
func (s *SummarizationConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	switch s.Provider {
	case "http":
		if s.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
		if s.APIKey == "" && s.Endpoint == "" {
			return fmt.Errorf("openai provider needs an api_key or an endpoint")
		}
	default:
		return fmt.Errorf("provider must be 'http' or 'openai', got '%s'", s.Provider)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	if s.Enabled && s.Path == "" {
		return fmt.Errorf("path cannot be empty when the store is enabled")
	}
	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.Retention < 1 {
		return fmt.Errorf("retention must be at least 1 second, got %d", s.Retention)
	}

	if s.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path.
	return nil
}

// GetSegmentDuration returns the live segment duration as a time.Duration
func (c *CaptureConfig) GetSegmentDuration() time.Duration {
	return time.Duration(c.SegmentDuration * float64(time.Second))
}

// GetProbeTimeout returns the recorder probe timeout as a time.Duration
func (c *CaptureConfig) GetProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeout * float64(time.Second))
}

// GetStartTimeout returns the network start timeout as a time.Duration
func (c *CaptureConfig) GetStartTimeout() time.Duration {
	return time.Duration(c.StartTimeout * float64(time.Second))
}

// GetSegmentDuration returns the file segment duration as a time.Duration
func (f *FileConfig) GetSegmentDuration() time.Duration {
	return time.Duration(f.SegmentDuration * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the summarization timeout as a time.Duration
func (s *SummarizationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetRetentionDuration returns the session retention as a time.Duration
func (s *SessionConfig) GetRetentionDuration() time.Duration {
	return time.Duration(s.Retention) * time.Second
}

// GetCleanupInterval returns the cleanup interval as a time.Duration
func (s *SessionConfig) GetCleanupInterval() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}
