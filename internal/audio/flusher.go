package audio

import (
	"fmt"
	"sync"
	"time"
)

// FlusherState represents whether the flusher holds buffered audio
type FlusherState int

const (
	StateIdle FlusherState = iota
	StateCollecting
)

func (s FlusherState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Flusher accumulates live samples and cuts them into segments every
// interval of audio time. Segment indices follow emission order.
type Flusher struct {
	format    Format
	framesPer int64
	interval  time.Duration

	pending   []float32
	position  int64 // frames already emitted
	nextIndex int

	// Statistics
	segmentsEmitted uint64
	totalFrames     int64

	mu sync.Mutex
}

// FlusherStats represents flusher statistics
type FlusherStats struct {
	State           string        `json:"state"`
	Interval        time.Duration `json:"interval"`
	SegmentsEmitted uint64        `json:"segments_emitted"`
	TotalDuration   time.Duration `json:"total_duration"`
	PendingDuration time.Duration `json:"pending_duration"`
}

// NewFlusher creates a flusher emitting one segment per interval.
func NewFlusher(format Format, interval time.Duration) (*Flusher, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %v", interval)
	}

	framesPer := DurationToFrames(interval, format.SampleRate)
	if framesPer < 1 {
		return nil, fmt.Errorf("flush interval %v is shorter than one frame at %d Hz", interval, format.SampleRate)
	}

	return &Flusher{
		format:    format,
		framesPer: framesPer,
		interval:  interval,
		pending:   make([]float32, 0, int(framesPer)*format.Channels),
	}, nil
}

// Write buffers samples and returns every segment completed by them.
func (f *Flusher) Write(samples []float32) []AudioSegment {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, samples...)

	perSegment := int(f.framesPer) * f.format.Channels
	var out []AudioSegment
	for len(f.pending) >= perSegment {
		out = append(out, f.cut(perSegment))
	}
	return out
}

// Flush emits the buffered remainder as a final, possibly short segment.
// It returns false when no whole frame is buffered.
func (f *Flusher) Flush() (AudioSegment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	whole := len(f.pending) - len(f.pending)%f.format.Channels
	if whole == 0 {
		f.pending = f.pending[:0]
		return AudioSegment{}, false
	}

	seg := f.cut(whole)
	f.pending = f.pending[:0]
	return seg, true
}

// cut removes n samples from the head of pending; caller holds the lock.
func (f *Flusher) cut(n int) AudioSegment {
	samples := make([]float32, n)
	copy(samples, f.pending[:n])
	f.pending = append(f.pending[:0], f.pending[n:]...)

	frames := int64(n / f.format.Channels)
	seg := AudioSegment{
		Index:      f.nextIndex,
		Format:     f.format,
		StartFrame: f.position,
		EndFrame:   f.position + frames,
		Samples:    samples,
	}

	f.position += frames
	f.nextIndex++
	f.segmentsEmitted++
	f.totalFrames += frames
	return seg
}

// GetStats returns current flusher statistics
func (f *Flusher) GetStats() FlusherStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := StateIdle
	if len(f.pending) > 0 {
		state = StateCollecting
	}

	return FlusherStats{
		State:           state.String(),
		Interval:        f.interval,
		SegmentsEmitted: f.segmentsEmitted,
		TotalDuration:   FramesToDuration(f.totalFrames, f.format.SampleRate),
		PendingDuration: FramesToDuration(int64(len(f.pending)/f.format.Channels), f.format.SampleRate),
	}
}
