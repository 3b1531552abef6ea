package audio

import (
	"fmt"
	"time"
)

// FileSegmenter slices a decoded clip into consecutive segments of a fixed
// duration. The last segment holds the remainder and is never empty.
type FileSegmenter struct {
	clip        *Clip
	framesPer   int64
	totalFrames int64
	nextFrame   int64
	nextIndex   int
}

// NewFileSegmenter creates a segmenter over clip with target duration d.
func NewFileSegmenter(clip *Clip, d time.Duration) (*FileSegmenter, error) {
	if clip == nil {
		return nil, fmt.Errorf("clip cannot be nil")
	}
	if err := clip.Format.Validate(); err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, fmt.Errorf("segment duration must be positive, got %v", d)
	}

	framesPer := DurationToFrames(d, clip.Format.SampleRate)
	if framesPer < 1 {
		return nil, fmt.Errorf("segment duration %v is shorter than one frame at %d Hz", d, clip.Format.SampleRate)
	}

	return &FileSegmenter{
		clip:        clip,
		framesPer:   framesPer,
		totalFrames: clip.Frames(),
	}, nil
}

// Count returns ceil(T/D), the number of segments the clip yields.
func (s *FileSegmenter) Count() int {
	return int((s.totalFrames + s.framesPer - 1) / s.framesPer)
}

// Next returns the next segment, or false once the clip is exhausted.
func (s *FileSegmenter) Next() (AudioSegment, bool) {
	if s.nextFrame >= s.totalFrames {
		return AudioSegment{}, false
	}

	start := s.nextFrame
	end := start + s.framesPer
	if end > s.totalFrames {
		end = s.totalFrames
	}

	ch := int64(s.clip.Format.Channels)
	seg := AudioSegment{
		Index:      s.nextIndex,
		Format:     s.clip.Format,
		StartFrame: start,
		EndFrame:   end,
		Samples:    s.clip.Samples[start*ch : end*ch : end*ch],
	}

	s.nextFrame = end
	s.nextIndex++
	return seg, true
}
