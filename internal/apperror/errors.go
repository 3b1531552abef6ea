package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies pipeline errors.
type Kind string

const (
	KindCaptureUnavailable        Kind = "capture_unavailable"
	KindDecodeFailure             Kind = "decode_failure"
	KindChunkTranscriptionFailure Kind = "chunk_transcription_failure"
	KindIncompleteTranscript      Kind = "incomplete_transcript"
	KindSummarizationUnavailable  Kind = "summarization_unavailable"
	KindInvalidState              Kind = "invalid_state"
	KindNotFound                  Kind = "not_found"
)

// Error is the typed error surfaced by the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// HTTPStatus returns the recommended HTTP status code for the error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindDecodeFailure:
		return http.StatusUnprocessableEntity
	case KindCaptureUnavailable, KindSummarizationUnavailable:
		return http.StatusServiceUnavailable
	case KindChunkTranscriptionFailure:
		return http.StatusBadGateway
	case KindInvalidState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrCaptureUnavailable        = &Error{Kind: KindCaptureUnavailable}
	ErrDecodeFailure             = &Error{Kind: KindDecodeFailure}
	ErrChunkTranscriptionFailure = &Error{Kind: KindChunkTranscriptionFailure}
	ErrIncompleteTranscript      = &Error{Kind: KindIncompleteTranscript}
	ErrSummarizationUnavailable  = &Error{Kind: KindSummarizationUnavailable}
	ErrInvalidState              = &Error{Kind: KindInvalidState}
	ErrNotFound                  = &Error{Kind: KindNotFound}
)

// CaptureUnavailable reports that the live capture device could not be acquired.
func CaptureUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindCaptureUnavailable, Message: message, Cause: cause}
}

// DecodeFailure reports that an input could not be decoded as audio.
func DecodeFailure(message string, cause error) *Error {
	return &Error{Kind: KindDecodeFailure, Message: message, Cause: cause}
}

// ChunkTranscriptionFailure reports a failed transcription of one chunk.
func ChunkTranscriptionFailure(index int, cause error) *Error {
	return &Error{
		Kind:    KindChunkTranscriptionFailure,
		Message: fmt.Sprintf("chunk %d", index),
		Cause:   cause,
	}
}

// IncompleteTranscript reports missing chunk results at finalization.
func IncompleteTranscript(missing []int) *Error {
	return &Error{
		Kind:    KindIncompleteTranscript,
		Message: fmt.Sprintf("missing results for chunks %v", missing),
	}
}

// SummarizationUnavailable reports a failed summarization call.
func SummarizationUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindSummarizationUnavailable, Message: message, Cause: cause}
}

// InvalidState reports an operation that the current session state does not allow.
func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus returns the status for err, defaulting to 500 for untyped errors.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
