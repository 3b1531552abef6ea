package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/eponine0805/voice-app/internal/audio"
)

// DefaultBlockDuration is the read granularity of PCM pipes.
const DefaultBlockDuration = 100 * time.Millisecond

// pipeStream pumps little-endian 16-bit PCM from a reader into
// frame-aligned sample blocks.
type pipeStream struct {
	format audio.Format
	closer io.Closer

	blocks   chan []float32
	readErr  error // set before blocks is closed
	pumpDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newPipeStream(r io.Reader, closer io.Closer, format audio.Format, block time.Duration) *pipeStream {
	if block <= 0 {
		block = DefaultBlockDuration
	}
	frameBytes := 2 * format.Channels
	frames := audio.DurationToFrames(block, format.SampleRate)
	if frames < 1 {
		frames = 1
	}

	s := &pipeStream{
		format:   format,
		closer:   closer,
		blocks:   make(chan []float32, 16),
		pumpDone: make(chan struct{}),
	}
	go s.pump(r, int(frames)*frameBytes, frameBytes)
	return s
}

func (s *pipeStream) pump(r io.Reader, blockBytes, frameBytes int) {
	defer close(s.pumpDone)
	defer close(s.blocks)

	buf := make([]byte, blockBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if whole := n - n%frameBytes; whole > 0 {
			s.blocks <- pcm16ToFloat(buf[:whole])
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				err = io.EOF
			}
			s.readErr = err
			return
		}
	}
}

func (s *pipeStream) Format() audio.Format { return s.format }

func (s *pipeStream) Read(ctx context.Context) ([]float32, error) {
	select {
	case b, ok := <-s.blocks:
		if !ok {
			return nil, s.readErr
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pipeStream) Close() error {
	s.closeOnce.Do(func() {
		// Unblock the pump if nobody is reading anymore.
		go func() {
			for range s.blocks {
			}
		}()
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}

// NewPCMReader wraps a reader of interleaved little-endian 16-bit PCM as a
// live stream. Closing the stream closes rc.
func NewPCMReader(rc io.ReadCloser, format audio.Format) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PCM format: %w", err)
	}
	return newPipeStream(rc, rc, format, DefaultBlockDuration), nil
}
