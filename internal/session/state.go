package session

import (
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
	"github.com/eponine0805/voice-app/internal/source"
)

// State of a session.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateDraining  State = "draining"
	StateFinalized State = "finalized"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool { return s == StateFinalized || s == StateFailed }

// Mode selects where a session's audio comes from.
type Mode string

const (
	ModeLive Mode = "live"
	ModeFile Mode = "file"
)

// Snapshot is a read-only view of a session published on every change.
type Snapshot struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ChunksEmitted   int           `json:"chunks_emitted"`
	ChunksCompleted int           `json:"chunks_completed"`
	ChunksFailed    int           `json:"chunks_failed"`
	Captured        time.Duration `json:"captured"`
	Partial         string        `json:"partial"`

	HasTranscript bool   `json:"has_transcript"`
	HasMinutes    bool   `json:"has_minutes"`
	HasRecording  bool   `json:"has_recording"`
	Summarizing   bool   `json:"summarizing"`
	SummaryError  string `json:"summary_error,omitempty"`

	Error     string        `json:"error,omitempty"`
	ErrorKind apperror.Kind `json:"error_kind,omitempty"`

	Capture *CaptureStats `json:"capture,omitempty"`
}

// CaptureStats reports the counters of a live capture.
type CaptureStats struct {
	Segmenter audio.FlusherStats        `json:"segmenter"`
	Network   *source.NetworkStatistics `json:"network,omitempty"`
}

// Pending returns the number of emitted chunks still awaiting a result.
func (s Snapshot) Pending() int { return s.ChunksEmitted - s.ChunksCompleted }
