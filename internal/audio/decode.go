package audio

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
)

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAVStream fully decodes an integer PCM WAV of any bit depth and
// layout, including files with extra chunks before the data chunk.
func DecodeWAVStream(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid WAV file")
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("unsupported WAV audio format %d", dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("WAV file has no format information")
	}

	format := Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	// Full scale is the largest positive code, matching PCM16ToFloat.
	half := math.Pow(2, float64(bitDepth-1))
	scale := half - 1
	offset := 0.0
	if bitDepth == 8 {
		offset = half // 8-bit WAV is unsigned
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if bitDepth == 16 {
			samples[i] = PCM16ToFloat(int16(v))
			continue
		}
		f := (float64(v) - offset) / scale
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		samples[i] = float32(f)
	}

	return &Clip{Format: format, Samples: samples}, nil
}
