package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/eponine0805/voice-app/internal/session"
	"github.com/eponine0805/voice-app/internal/transcript"
	"github.com/eponine0805/voice-app/internal/transcription"
)

const writeTimeout = 5 * time.Second

// Recorder persists session events as they happen. Write failures are
// logged and never reach the session.
type Recorder struct {
	store       *Store
	logger      *slog.Logger
	placeholder string
}

var _ session.Observer = (*Recorder)(nil)

// NewRecorder creates a session observer writing to s. Failed chunks are
// rendered with placeholder in stored transcripts.
func NewRecorder(s *Store, logger *slog.Logger, placeholder string) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if placeholder == "" {
		placeholder = transcript.DefaultPlaceholder
	}
	return &Recorder{store: s, logger: logger, placeholder: placeholder}
}

func (r *Recorder) SessionChanged(s session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := r.store.SaveSession(ctx, Session{
		ID:              s.ID,
		Mode:            string(s.Mode),
		State:           string(s.State),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		ChunksEmitted:   s.ChunksEmitted,
		ChunksCompleted: s.ChunksCompleted,
		ChunksFailed:    s.ChunksFailed,
		Captured:        s.Captured,
		Error:           s.Error,
		ErrorKind:       string(s.ErrorKind),
	})
	r.logError("session", s.ID, err)
}

func (r *Recorder) ChunkCompleted(sessionID string, res transcription.ChunkResult) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c := Chunk{
		SessionID:       sessionID,
		Index:           res.Index,
		Start:           res.Start,
		End:             res.End,
		Text:            res.Text,
		RequestDuration: res.Duration,
	}
	if res.Failure != nil {
		c.FailureCategory = string(res.Failure.Category)
		c.FailureMessage = res.Failure.Message
	}
	r.logError("chunk", sessionID, r.store.SaveChunk(ctx, c))
}

func (r *Recorder) SessionFinalized(sessionID string, t transcript.Transcript) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := r.store.SaveTranscript(ctx, Transcript{
		SessionID: sessionID,
		Text:      t.Text(),
		Rendered:  strings.Join(t.Lines(r.placeholder), "\n"),
		Chunks:    t.Len(),
		Failed:    len(t.Failed()),
	})
	r.logError("transcript", sessionID, err)
}

func (r *Recorder) SessionSummarized(sessionID, minutes string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	sum := Summary{SessionID: sessionID, Content: minutes}
	if err != nil {
		sum.Error = err.Error()
	}
	_, saveErr := r.store.AddSummary(ctx, sum)
	r.logError("summary", sessionID, saveErr)
}

func (r *Recorder) logError(what, sessionID string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("Failed to persist "+what,
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}
