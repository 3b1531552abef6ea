package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
)

// DefaultProbeTimeout bounds how long Open waits for the recorder to
// produce its first block.
const DefaultProbeTimeout = 3 * time.Second

// CommandOpener captures audio from an external recorder process that
// writes raw interleaved little-endian 16-bit PCM to stdout, e.g.
//
//	arecord -q -t raw -f S16_LE -r 16000 -c 1
//	ffmpeg -loglevel error -f pulse -i default -f s16le -ac 1 -ar 16000 pipe:1
type CommandOpener struct {
	Command       []string
	Format        audio.Format
	BlockDuration time.Duration
	ProbeTimeout  time.Duration
	Logger        *slog.Logger
}

// Open starts the recorder and waits until it either produces audio or
// the probe timeout passes. A recorder that exits without producing audio
// is reported as capture unavailable.
func (o *CommandOpener) Open(ctx context.Context) (Stream, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(o.Command) == 0 {
		return nil, apperror.CaptureUnavailable("no recorder command configured", nil)
	}
	if err := o.Format.Validate(); err != nil {
		return nil, apperror.CaptureUnavailable("invalid capture format", err)
	}

	// The process outlives Open, so it is not bound to ctx.
	cmd := exec.Command(o.Command[0], o.Command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperror.CaptureUnavailable("failed to attach recorder output", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, apperror.CaptureUnavailable(fmt.Sprintf("failed to start recorder %q", o.Command[0]), err)
	}

	proc := &process{cmd: cmd, stderr: stderr, logger: logger}
	pipe := newPipeStream(stdout, proc, o.Format, o.BlockDuration)
	proc.pumpDone = pipe.pumpDone

	probe := o.ProbeTimeout
	if probe <= 0 {
		probe = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, probe)
	defer cancel()

	first, err := pipe.Read(probeCtx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// Still running but silent so far; accept it.
	default:
		pipe.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperror.CaptureUnavailable("recorder exited without producing audio", proc.exitError())
	}

	logger.Info("Recorder started",
		slog.String("command", o.Command[0]),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("sample_rate", o.Format.SampleRate),
		slog.Int("channels", o.Format.Channels),
	)
	return &primedStream{Stream: pipe, first: first}, nil
}

// primedStream returns a block consumed while probing before reading on.
type primedStream struct {
	Stream
	first []float32
}

func (p *primedStream) Read(ctx context.Context) ([]float32, error) {
	if p.first != nil {
		b := p.first
		p.first = nil
		return b, nil
	}
	return p.Stream.Read(ctx)
}

// process stops and reaps a recorder.
type process struct {
	cmd      *exec.Cmd
	stderr   *tailBuffer
	logger   *slog.Logger
	pumpDone <-chan struct{}

	once    sync.Once
	waitErr error
}

func (p *process) wait() error {
	p.once.Do(func() {
		// Wait closes stdout, so let the pump finish reading first.
		<-p.pumpDone
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// exitError waits for the process and describes how it ended.
func (p *process) exitError() error {
	err := p.wait()
	tail := strings.TrimSpace(p.stderr.String())
	switch {
	case err != nil && tail != "":
		return fmt.Errorf("%w: %s", err, tail)
	case err != nil:
		return err
	case tail != "":
		return errors.New(tail)
	default:
		return errors.New("recorder exited")
	}
}

// Close implements io.Closer.
func (p *process) Close() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("Failed to kill recorder", slog.String("error", err.Error()))
	}
	err := p.wait()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("failed to reap recorder: %w", err)
	}
	p.logger.Debug("Recorder stopped", slog.String("state", p.cmd.ProcessState.String()))
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

var _ io.Writer = (*tailBuffer)(nil)
