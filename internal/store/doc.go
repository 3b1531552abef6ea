// Package store persists sessions, chunk results, transcripts and minutes
// in SQLite.
//
// Chunk results are keyed by (session, chunk index) so a transcript can be
// rebuilt in order from the database alone.
package store
