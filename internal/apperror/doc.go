// Package apperror defines the typed error kinds raised by the capture,
// transcription and summarization pipeline and maps them to HTTP status codes.
package apperror
