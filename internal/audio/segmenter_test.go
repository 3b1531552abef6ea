package audio

import (
	"testing"
	"time"
)

func silentClip(format Format, d time.Duration) *Clip {
	frames := DurationToFrames(d, format.SampleRate)
	return &Clip{Format: format, Samples: make([]float32, frames*int64(format.Channels))}
}

func collect(t *testing.T, s *FileSegmenter) []AudioSegment {
	t.Helper()
	var out []AudioSegment
	for {
		seg, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, seg)
	}
}

func TestFileSegmenterCoverage(t *testing.T) {
	tests := []struct {
		name      string
		total     time.Duration
		segment   time.Duration
		wantCount int
		wantLast  time.Duration
	}{
		{"400s in 180s segments", 400 * time.Second, 180 * time.Second, 3, 40 * time.Second},
		{"exact multiple has no empty tail", 360 * time.Second, 180 * time.Second, 2, 180 * time.Second},
		{"shorter than one segment", 12 * time.Second, 180 * time.Second, 1, 12 * time.Second},
		{"one frame over", 30*time.Second + 125*time.Microsecond, 15 * time.Second, 3, 125 * time.Microsecond},
	}

	format := Format{SampleRate: 8000, Channels: 1}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clip := silentClip(format, tt.total)
			s, err := NewFileSegmenter(clip, tt.segment)
			if err != nil {
				t.Fatalf("NewFileSegmenter failed: %v", err)
			}

			if s.Count() != tt.wantCount {
				t.Errorf("Expected Count() %d, got %d", tt.wantCount, s.Count())
			}

			segs := collect(t, s)
			if len(segs) != tt.wantCount {
				t.Fatalf("Expected %d segments, got %d", tt.wantCount, len(segs))
			}

			var cursor int64
			for i, seg := range segs {
				if seg.Index != i {
					t.Errorf("Segment %d has index %d", i, seg.Index)
				}
				if seg.StartFrame != cursor {
					t.Errorf("Segment %d starts at frame %d, expected %d", i, seg.StartFrame, cursor)
				}
				if seg.Frames() <= 0 {
					t.Errorf("Segment %d is empty", i)
				}
				if int64(len(seg.Samples)) != seg.Frames() {
					t.Errorf("Segment %d has %d samples for %d frames", i, len(seg.Samples), seg.Frames())
				}
				cursor = seg.EndFrame
			}
			if cursor != clip.Frames() {
				t.Errorf("Segments cover %d frames, clip has %d", cursor, clip.Frames())
			}

			if last := segs[len(segs)-1].Duration(); last != tt.wantLast {
				t.Errorf("Expected last segment %v, got %v", tt.wantLast, last)
			}
		})
	}
}

func TestFileSegmenterScenarioB(t *testing.T) {
	clip := silentClip(Format{SampleRate: 16000, Channels: 2}, 400*time.Second)
	s, err := NewFileSegmenter(clip, 180*time.Second)
	if err != nil {
		t.Fatalf("NewFileSegmenter failed: %v", err)
	}

	want := []time.Duration{180 * time.Second, 180 * time.Second, 40 * time.Second}
	segs := collect(t, s)
	if len(segs) != len(want) {
		t.Fatalf("Expected %d segments, got %d", len(want), len(segs))
	}
	for i, seg := range segs {
		if seg.Duration() != want[i] {
			t.Errorf("Segment %d: expected %v, got %v", i, want[i], seg.Duration())
		}
		if len(seg.Samples) != int(seg.Frames())*2 {
			t.Errorf("Segment %d: stereo sample count mismatch", i)
		}
	}
}

func TestFileSegmenterEmptyClip(t *testing.T) {
	clip := &Clip{Format: Format{SampleRate: 8000, Channels: 1}}
	s, err := NewFileSegmenter(clip, 15*time.Second)
	if err != nil {
		t.Fatalf("NewFileSegmenter failed: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Expected 0 segments, got %d", s.Count())
	}
	if _, ok := s.Next(); ok {
		t.Error("Expected no segment from an empty clip")
	}
}

func TestFileSegmenterInvalidDuration(t *testing.T) {
	clip := silentClip(Format{SampleRate: 8000, Channels: 1}, time.Second)
	if _, err := NewFileSegmenter(clip, 0); err == nil {
		t.Error("Expected error for zero duration")
	}
	if _, err := NewFileSegmenter(clip, time.Microsecond); err == nil {
		t.Error("Expected error for sub-frame duration")
	}
	if _, err := NewFileSegmenter(nil, time.Second); err == nil {
		t.Error("Expected error for nil clip")
	}
}
