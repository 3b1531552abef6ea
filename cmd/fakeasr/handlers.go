package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eponine0805/voice-app/internal/audio"
	"github.com/eponine0805/voice-app/internal/summary"
)

// TranscriptionResponse is the body answered by the fake endpoint.
type TranscriptionResponse struct {
	Text        string    `json:"text"`
	ChunkIndex  string    `json:"chunk_index,omitempty"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

// fakeASR answers transcription requests with canned text.
type fakeASR struct {
	text      string
	delay     time.Duration
	failEvery int // every Nth request answers 500; 0 disables
	logger    *slog.Logger

	requests atomic.Int64
}

func (f *fakeASR) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := f.requests.Add(1)

	var (
		data       []byte
		chunkIndex string
		err        error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}
		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		chunkIndex = r.FormValue("chunk_index")
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		http.Error(w, "Error reading audio", http.StatusBadRequest)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.logger.Info("Transcription request received",
		slog.Int64("request", n),
		slog.String("chunk_index", chunkIndex),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.Int("channels", int(info.Channels)),
		slog.Float64("duration", info.Duration),
	)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}

	if f.failEvery > 0 && n%int64(f.failEvery) == 0 {
		f.logger.Warn("Simulating transcription failure", slog.Int64("request", n))
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TranscriptionResponse{
		Text:        fmt.Sprintf("%s (%.1f秒)", f.text, info.Duration),
		ChunkIndex:  chunkIndex,
		Duration:    info.Duration,
		ProcessedAt: time.Now(),
	})
}

// fakeSummarizer produces minutes listing the transcript sentences.
type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	var b strings.Builder
	b.WriteString("## 要点\n")
	for _, s := range strings.FieldsFunc(transcript, func(r rune) bool { return r == '。' || r == '\n' }) {
		if s = strings.TrimSpace(s); s != "" {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("\n## 決定事項\n- なし\n\n## ToDo\n- なし")
	return b.String(), nil
}

func newMux(asr *fakeASR, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/transcribe", asr)
	mux.Handle("/summarize", summary.Handler(fakeSummarizer{}, logger))
	return mux
}
