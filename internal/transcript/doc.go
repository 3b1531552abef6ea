// Package transcript assembles per-chunk transcription results into an
// ordered Transcript. Results may arrive in any order; the transcript is
// always in chunk index order and has one entry per emitted chunk.
package transcript
