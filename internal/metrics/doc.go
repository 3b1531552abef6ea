// Package metrics exposes Prometheus instrumentation for sessions, chunk
// transcription, summarization and the HTTP API.
package metrics
