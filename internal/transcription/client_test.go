package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testChunk(t *testing.T, index int) audio.EncodedChunk {
	t.Helper()
	format := audio.Format{SampleRate: 16000, Channels: 1}
	seg := audio.AudioSegment{
		Index:      index,
		Format:     format,
		StartFrame: int64(index) * 1600,
		EndFrame:   int64(index+1) * 1600,
		Samples:    make([]float32, 1600),
	}
	chunk, err := audio.EncodeChunk(seg)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}
	return chunk
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{"valid", Config{Endpoint: "http://localhost/asr"}, false},
		{"raw format", Config{Endpoint: "http://localhost/asr", RequestFormat: FormatRaw}, false},
		{"missing endpoint", Config{}, true},
		{"bad format", Config{Endpoint: "http://localhost/asr", RequestFormat: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, quietLogger())
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestClientTranscribeMultipart(t *testing.T) {
	var gotAuth, gotFilename, gotIndex, gotLanguage string
	var gotSize int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		gotSize = len(data)
		gotFilename = header.Filename
		gotIndex = r.FormValue("chunk_index")
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"こんにちは"}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, APIKey: "secret", Language: "ja"}, quietLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	chunk := testChunk(t, 3)
	result := client.Transcribe(context.Background(), chunk)
	if !result.OK() {
		t.Fatalf("Expected success, got failure %v", result.Failure)
	}
	if result.Text != "こんにちは" {
		t.Errorf("Unexpected text %q", result.Text)
	}
	if result.Index != 3 || result.Start != chunk.Start || result.End != chunk.End {
		t.Errorf("Result not tied to chunk: %+v", result)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Unexpected Authorization header %q", gotAuth)
	}
	if gotFilename != "chunk-0003.wav" || gotIndex != "3" || gotLanguage != "ja" {
		t.Errorf("Unexpected form: filename=%q index=%q language=%q", gotFilename, gotIndex, gotLanguage)
	}
	if gotSize != len(chunk.Data) {
		t.Errorf("Expected %d bytes uploaded, got %d", len(chunk.Data), gotSize)
	}
}

func TestClientTranscribeRaw(t *testing.T) {
	var gotType string
	var gotSize int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotSize = len(data)
		io.WriteString(w, `{"text":"hello"}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, RequestFormat: FormatRaw}, quietLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	chunk := testChunk(t, 0)
	result := client.Transcribe(context.Background(), chunk)
	if !result.OK() || result.Text != "hello" {
		t.Fatalf("Unexpected result %+v", result)
	}
	if gotType != audio.MediaTypeWAV {
		t.Errorf("Expected Content-Type %q, got %q", audio.MediaTypeWAV, gotType)
	}
	if gotSize != len(chunk.Data) {
		t.Errorf("Expected %d bytes, got %d", len(chunk.Data), gotSize)
	}
}

func TestClientFailureCategories(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category FailureCategory
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, FailureStatus},
		{"rate limited", http.StatusTooManyRequests, "", FailureStatus},
		{"not json", http.StatusOK, "<html>", FailureMalformed},
		{"missing text", http.StatusOK, `{"transcript":"hi"}`, FailureMalformed},
		{"text not a string", http.StatusOK, `{"text":42}`, FailureMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client, _ := NewClient(Config{Endpoint: server.URL}, quietLogger())
			result := client.Transcribe(context.Background(), testChunk(t, 1))
			if result.OK() {
				t.Fatalf("Expected failure, got %+v", result)
			}
			if result.Failure.Category != tt.category {
				t.Errorf("Expected category %s, got %s", tt.category, result.Failure.Category)
			}
			if result.Index != 1 {
				t.Errorf("Expected index 1, got %d", result.Index)
			}
			if !errors.Is(result.Err(), apperror.ErrChunkTranscriptionFailure) {
				t.Errorf("Expected chunk transcription failure, got %v", result.Err())
			}
		})
	}
}

func TestClientEmptyTextIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":""}`)
	}))
	defer server.Close()

	client, _ := NewClient(Config{Endpoint: server.URL}, quietLogger())
	result := client.Transcribe(context.Background(), testChunk(t, 0))
	if !result.OK() {
		t.Fatalf("Expected silent chunk to succeed, got %v", result.Failure)
	}
	if result.Err() != nil {
		t.Errorf("Expected nil Err, got %v", result.Err())
	}
}

func TestClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, _ := NewClient(Config{Endpoint: url, Timeout: time.Second}, quietLogger())
	result := client.Transcribe(context.Background(), testChunk(t, 0))
	if result.OK() || result.Failure.Category != FailureTransport {
		t.Fatalf("Expected transport failure, got %+v", result)
	}
}

func TestClientCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, _ := NewClient(Config{Endpoint: server.URL}, quietLogger())
	result := client.Transcribe(ctx, testChunk(t, 0))
	if result.OK() || result.Failure.Category != FailureCanceled {
		t.Fatalf("Expected canceled failure, got %+v", result)
	}
}

func TestClientDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(Config{Endpoint: server.URL}, quietLogger())
	client.Transcribe(context.Background(), testChunk(t, 0))

	if got := calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 request, got %d", got)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.FailedRequests != 1 || stats.ActiveRequests != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{"default http", Config{Endpoint: "http://localhost/asr"}, false},
		{"openai", Config{Provider: ProviderOpenAI, APIKey: "sk-test"}, false},
		{"openai compatible", Config{Provider: ProviderOpenAI, Endpoint: "http://localhost:8080/v1"}, false},
		{"openai without key", Config{Provider: ProviderOpenAI}, true},
		{"unknown", Config{Provider: "carrier-pigeon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.config, quietLogger())
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if _, ok := tr.(StatsReporter); !ok {
				t.Errorf("Expected %T to report stats", tr)
			}
		})
	}
}

func TestOpenAIClientTranscribe(t *testing.T) {
	var gotPath, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotModel = r.FormValue("model")
		if strings.Contains(r.FormValue("model"), "fail") {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"議事録のテスト"}`)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(Config{Endpoint: server.URL + "/v1", APIKey: "sk-test"}, quietLogger())
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}

	result := client.Transcribe(context.Background(), testChunk(t, 2))
	if !result.OK() || result.Text != "議事録のテスト" || result.Index != 2 {
		t.Fatalf("Unexpected result %+v", result)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("Unexpected path %q", gotPath)
	}
	if gotModel != "whisper-1" {
		t.Errorf("Unexpected model %q", gotModel)
	}

	failing, _ := NewOpenAIClient(Config{Endpoint: server.URL + "/v1", APIKey: "sk-test", Model: "fail"}, quietLogger())
	result = failing.Transcribe(context.Background(), testChunk(t, 0))
	if result.OK() || result.Failure.Category != FailureStatus {
		t.Fatalf("Expected status failure, got %+v", result)
	}
}
