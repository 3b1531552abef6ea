package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Archive writes the complete capture of a session to a 16-bit WAV file.
// The header sizes are patched on Close.
type Archive struct {
	path    string
	format  Format
	file    *os.File
	encoder *wav.Encoder
	frames  int64
	closed  bool
	mu      sync.Mutex
}

// CreateArchive creates the file at path, including parent directories.
func CreateArchive(path string, format Format) (*Archive, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file %s: %w", path, err)
	}

	return &Archive{
		path:    path,
		format:  format,
		file:    f,
		encoder: wav.NewEncoder(f, format.SampleRate, bitsPerSample, format.Channels, 1),
	}, nil
}

// Write appends interleaved samples using the chunk encoder's conversion.
func (a *Archive) Write(samples []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("archive %s is closed", a.path)
	}
	if len(samples) == 0 {
		return nil
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(FloatToPCM16(s))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: a.format.Channels, SampleRate: a.format.SampleRate},
		Data:           data,
		SourceBitDepth: bitsPerSample,
	}
	if err := a.encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write recording samples: %w", err)
	}

	a.frames += int64(len(samples) / a.format.Channels)
	return nil
}

// Close finalizes the WAV header and closes the file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	encErr := a.encoder.Close()
	fileErr := a.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize recording: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close recording file: %w", fileErr)
	}
	return nil
}

// Path returns the archive file path.
func (a *Archive) Path() string { return a.path }

// Duration returns the amount of audio written so far.
func (a *Archive) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return FramesToDuration(a.frames, a.format.SampleRate)
}
