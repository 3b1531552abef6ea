package source

import (
	"context"
	"encoding/binary"

	"github.com/eponine0805/voice-app/internal/audio"
)

// Stream is an open live capture. Read returns interleaved samples in
// [-1,1] as they become available and io.EOF once the capture has ended.
// Close releases the underlying device and is safe to call more than once.
type Stream interface {
	Format() audio.Format
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// Opener acquires a live capture. Acquisition failures are reported as
// apperror.KindCaptureUnavailable.
type Opener interface {
	Open(ctx context.Context) (Stream, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (Stream, error)

// Open calls f(ctx).
func (f OpenerFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

// WithGain wraps an opener so that every span read is amplified by gain.
func WithGain(o Opener, gain float32) Opener {
	if gain == 1 {
		return o
	}
	return OpenerFunc(func(ctx context.Context) (Stream, error) {
		s, err := o.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &gainStream{Stream: s, gain: gain}, nil
	})
}

type gainStream struct {
	Stream
	gain float32
}

func (g *gainStream) Read(ctx context.Context) ([]float32, error) {
	samples, err := g.Stream.Read(ctx)
	audio.ApplyGain(samples, g.gain)
	return samples, err
}

// pcm16ToFloat converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is ignored.
func pcm16ToFloat(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = audio.PCM16ToFloat(int16(binary.LittleEndian.Uint16(b[2*i:])))
	}
	return out
}
