package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
)

// Transcriber turns one encoded chunk into a ChunkResult. Implementations
// never return an error: every failure is recorded in the result so that
// a bad chunk cannot abort the session.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk audio.EncodedChunk) ChunkResult
}

// FailureCategory classifies why a chunk could not be transcribed.
type FailureCategory string

const (
	FailureTransport FailureCategory = "transport" // request never got a response
	FailureStatus    FailureCategory = "status"    // non-success HTTP status
	FailureMalformed FailureCategory = "malformed" // response without a text field
	FailureCanceled  FailureCategory = "canceled"
	FailureEncode    FailureCategory = "encode" // chunk could not be encoded
)

// Failure describes a failed chunk.
type Failure struct {
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Category, f.Message)
}

// ChunkResult is the outcome of transcribing one chunk. Exactly one of a
// successful Text (possibly empty) or a Failure is meaningful.
type ChunkResult struct {
	Index    int           `json:"index"`
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	Text     string        `json:"text"`
	Failure  *Failure      `json:"failure,omitempty"`
	Duration time.Duration `json:"request_duration"`
}

// OK reports whether the chunk was transcribed.
func (r ChunkResult) OK() bool { return r.Failure == nil }

// Err returns the failure as an apperror.KindChunkTranscriptionFailure, or
// nil for a successful result.
func (r ChunkResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return apperror.ChunkTranscriptionFailure(r.Index, r.Failure)
}

// Succeeded builds a successful result for chunk.
func Succeeded(chunk audio.EncodedChunk, text string) ChunkResult {
	return ChunkResult{Index: chunk.Index, Start: chunk.Start, End: chunk.End, Text: text}
}

// Failed builds a placeholder result for chunk.
func Failed(chunk audio.EncodedChunk, category FailureCategory, message string) ChunkResult {
	return ChunkResult{
		Index:   chunk.Index,
		Start:   chunk.Start,
		End:     chunk.End,
		Failure: &Failure{Category: category, Message: message},
	}
}

// categorize maps a request error to a failure category.
func categorize(ctx context.Context, err error) FailureCategory {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	var se *statusError
	if errors.As(err, &se) {
		return FailureStatus
	}
	var me *malformedError
	if errors.As(err, &me) {
		return FailureMalformed
	}
	return FailureTransport
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("HTTP error %d", e.code)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

type malformedError struct {
	reason string
}

func (e *malformedError) Error() string { return "malformed response: " + e.reason }
