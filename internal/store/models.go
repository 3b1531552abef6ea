package store

import "time"

// Session is the persisted view of a session.
type Session struct {
	ID              string
	Mode            string
	State           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ChunksEmitted   int
	ChunksCompleted int
	ChunksFailed    int
	Captured        time.Duration
	Error           string
	ErrorKind       string
}

// Chunk is one recorded chunk result.
type Chunk struct {
	SessionID       string
	Index           int
	Start           time.Duration
	End             time.Duration
	Text            string
	FailureCategory string // empty on success
	FailureMessage  string
	RequestDuration time.Duration
	CreatedAt       time.Time
}

// OK reports whether the chunk was transcribed.
func (c Chunk) OK() bool { return c.FailureCategory == "" }

// Transcript is a finalized transcript.
type Transcript struct {
	SessionID string
	Text      string // successful chunk texts joined by spaces
	Rendered  string // timestamped lines with failure placeholders
	Chunks    int
	Failed    int
	CreatedAt time.Time
}

// Summary is one summarization attempt.
type Summary struct {
	ID        string
	SessionID string
	Content   string
	Error     string
	CreatedAt time.Time
}
