package summary

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// MaxTranscriptBytes bounds the body accepted by Handler.
const MaxTranscriptBytes = 4 << 20

// Handler serves POST requests whose body is a plain-text transcript and
// answers {"summary": ...}, or {"error": ...} with status 500.
func Handler(s Summarizer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxTranscriptBytes))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, Response{Error: err.Error()})
			return
		}

		minutes, err := s.Summarize(r.Context(), string(body))
		if err != nil {
			logger.Error("Summarization failed",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusInternalServerError, Response{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, Response{Summary: minutes})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
