package audio

import (
	"fmt"
	"time"
)

// MediaTypeWAV is the declared media type of every encoded chunk.
const MediaTypeWAV = "audio/wav"

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
}

// Validate checks that the format can be encoded.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", f.Channels)
	}
	return nil
}

// FramesToDuration converts a frame count at the given rate to a duration.
func FramesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(sampleRate))
}

// DurationToFrames converts a duration to the nearest whole frame count.
func DurationToFrames(d time.Duration, sampleRate int) int64 {
	return (int64(d)*int64(sampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// Clip is a fully decoded, finite audio buffer.
type Clip struct {
	Format  Format
	Samples []float32 // interleaved, [-1,1]
}

// Frames returns the number of whole frames in the clip.
func (c *Clip) Frames() int64 {
	if c.Format.Channels <= 0 {
		return 0
	}
	return int64(len(c.Samples) / c.Format.Channels)
}

// Duration returns the total duration of the clip.
func (c *Clip) Duration() time.Duration {
	return FramesToDuration(c.Frames(), c.Format.SampleRate)
}

// AudioSegment is one time-boxed slice of raw samples. Segments are
// read-only once produced; Samples may share memory with the source clip.
type AudioSegment struct {
	Index      int
	Format     Format
	StartFrame int64
	EndFrame   int64
	Samples    []float32 // interleaved, len == Frames()*Channels
}

// Frames returns the number of frames in the segment.
func (s AudioSegment) Frames() int64 { return s.EndFrame - s.StartFrame }

// Start returns the segment's offset from the beginning of the source.
func (s AudioSegment) Start() time.Duration {
	return FramesToDuration(s.StartFrame, s.Format.SampleRate)
}

// End returns the segment's end offset (exclusive).
func (s AudioSegment) End() time.Duration {
	return FramesToDuration(s.EndFrame, s.Format.SampleRate)
}

// Duration returns the length of the segment.
func (s AudioSegment) Duration() time.Duration {
	return s.End() - s.Start()
}

// EncodedChunk is a transport-ready container for one segment.
type EncodedChunk struct {
	Index     int           `json:"index"`
	MediaType string        `json:"media_type"`
	Format    Format        `json:"format"`
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	Data      []byte        `json:"-"`
}

// Filename returns the upload file name for the chunk.
func (c EncodedChunk) Filename() string {
	return fmt.Sprintf("chunk-%04d.wav", c.Index)
}
