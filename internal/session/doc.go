// Package session drives one capture-to-minutes lifecycle. A Controller
// owns the capture stream, feeds segments through encoding and strictly
// sequential transcription, and aggregates results into a transcript. The
// Manager keeps the registry of sessions and expires finished ones.
package session
