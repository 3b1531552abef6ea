// Package source acquires audio for a session. Live capture comes from an
// Opener (an external recorder process, a raw PCM reader, or a remote agent
// streaming over UDP) and whole recordings are decoded in memory by
// DecodeFile.
package source
