package session

import (
	"github.com/eponine0805/voice-app/internal/transcript"
	"github.com/eponine0805/voice-app/internal/transcription"
)

// Observer receives session events. Calls are made synchronously from the
// session's control loop, so implementations must not block for long.
type Observer interface {
	SessionChanged(s Snapshot)
	ChunkCompleted(sessionID string, result transcription.ChunkResult)
	SessionFinalized(sessionID string, t transcript.Transcript)
	SessionSummarized(sessionID string, minutes string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) SessionChanged(Snapshot) {}
func (NopObserver) ChunkCompleted(string, transcription.ChunkResult) {}
func (NopObserver) SessionFinalized(string, transcript.Transcript) {}
func (NopObserver) SessionSummarized(string, string, error) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) SessionChanged(s Snapshot) {
	for _, obs := range o {
		obs.SessionChanged(s)
	}
}

func (o Observers) ChunkCompleted(id string, r transcription.ChunkResult) {
	for _, obs := range o {
		obs.ChunkCompleted(id, r)
	}
}

func (o Observers) SessionFinalized(id string, t transcript.Transcript) {
	for _, obs := range o {
		obs.SessionFinalized(id, t)
	}
}

func (o Observers) SessionSummarized(id, minutes string, err error) {
	for _, obs := range o {
		obs.SessionSummarized(id, minutes, err)
	}
}
