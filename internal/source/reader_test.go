package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/eponine0805/voice-app/internal/audio"
)

func TestPCMReaderDeliversWholeFrames(t *testing.T) {
	format := audio.Format{SampleRate: 8000, Channels: 2}
	// Three stereo frames plus a dangling half frame.
	data := append(pcmOf(1, 2, 3, 4, 5, 6), 7, 0)

	s, err := NewPCMReader(io.NopCloser(bytes.NewReader(data)), format)
	if err != nil {
		t.Fatalf("NewPCMReader failed: %v", err)
	}
	defer s.Close()

	if s.Format() != format {
		t.Errorf("Expected format %+v, got %+v", format, s.Format())
	}

	samples := readAll(t, s)
	if len(samples) != 6 {
		t.Fatalf("Expected 6 samples, got %d", len(samples))
	}
	if samples[5] != 6.0/32767 {
		t.Errorf("Unexpected last sample %v", samples[5])
	}
}

func TestPCMReaderInvalidFormat(t *testing.T) {
	_, err := NewPCMReader(io.NopCloser(bytes.NewReader(nil)), audio.Format{})
	if err == nil {
		t.Error("Expected error for zero format")
	}
}

func TestPCMReaderHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s, err := NewPCMReader(pr, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("NewPCMReader failed: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

type countingOpener struct {
	stream Stream
}

func (c *countingOpener) Open(context.Context) (Stream, error) { return c.stream, nil }

func TestWithGain(t *testing.T) {
	format := audio.Format{SampleRate: 8000, Channels: 1}
	s, err := NewPCMReader(io.NopCloser(bytes.NewReader(pcmOf(10, 20))), format)
	if err != nil {
		t.Fatalf("NewPCMReader failed: %v", err)
	}

	opener := WithGain(&countingOpener{stream: s}, 2)
	amplified, err := opener.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer amplified.Close()

	samples := readAll(t, amplified)
	want := []float32{2 * (10.0 / 32767), 2 * (20.0 / 32767)}
	if len(samples) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, want[i], samples[i])
		}
	}

	base := &countingOpener{}
	if WithGain(base, 1) != Opener(base) {
		t.Error("Unity gain should return the opener unchanged")
	}
}
