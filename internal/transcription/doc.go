// Package transcription sends encoded chunks to a speech recognition
// backend, one request per chunk with no retries. A failed request becomes
// a placeholder ChunkResult rather than an error.
package transcription
