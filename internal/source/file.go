package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
)

// DecodeOptions controls how uploaded recordings are decoded.
type DecodeOptions struct {
	FFmpegPath string // default "ffmpeg"
	SampleRate int    // target rate for transcoded input, default 16000
	Channels   int    // target channel count for transcoded input, default 1
	Logger     *slog.Logger
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DecodeFile decodes a whole recording into memory. PCM WAV is decoded
// natively at its own rate and channel count; any other container is
// transcoded by ffmpeg to the configured target format. Every failure is
// reported as apperror.KindDecodeFailure.
func DecodeFile(ctx context.Context, data []byte, opts DecodeOptions) (*audio.Clip, error) {
	opts = opts.withDefaults()
	if len(data) == 0 {
		return nil, apperror.DecodeFailure("empty recording", nil)
	}

	container := Identify(data)
	logger := opts.Logger.With(
		slog.String("content_type", container.ContentType),
		slog.Int("size", len(data)),
	)

	if container == ContainerWAV {
		clip, err := audio.DecodeWAVStream(bytes.NewReader(data))
		if err == nil {
			if clip.Frames() == 0 {
				return nil, apperror.DecodeFailure("recording contains no audio", nil)
			}
			logger.Debug("Decoded WAV natively", slog.Duration("duration", clip.Duration()))
			return clip, nil
		}
		logger.Debug("Native WAV decode failed, falling back to ffmpeg", slog.String("error", err.Error()))
	}

	clip, err := transcode(ctx, data, container, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("Transcoded recording", slog.Duration("duration", clip.Duration()))
	return clip, nil
}

// DecodeFileAt reads and decodes the recording at path.
func DecodeFileAt(ctx context.Context, path string, opts DecodeOptions) (*audio.Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.DecodeFailure(fmt.Sprintf("failed to read %s", path), err)
	}
	return DecodeFile(ctx, data, opts)
}

func transcode(ctx context.Context, data []byte, container Container, opts DecodeOptions) (*audio.Clip, error) {
	tmp, err := os.CreateTemp("", "upload-*"+container.Extension)
	if err != nil {
		return nil, apperror.DecodeFailure("failed to stage recording", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, apperror.DecodeFailure("failed to stage recording", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, apperror.DecodeFailure("failed to stage recording", err)
	}

	args := []string{
		"-nostdin", "-loglevel", "error",
		"-i", tmp.Name(),
		"-vn",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(opts.Channels),
		"-ar", strconv.Itoa(opts.SampleRate),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, opts.FFmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "ffmpeg failed"
		}
		return nil, apperror.DecodeFailure(msg, err)
	}

	frameBytes := 2 * opts.Channels
	pcm := stdout.Bytes()
	pcm = pcm[:len(pcm)-len(pcm)%frameBytes]
	if len(pcm) == 0 {
		return nil, apperror.DecodeFailure("recording contains no audio", nil)
	}

	return &audio.Clip{
		Format:  audio.Format{SampleRate: opts.SampleRate, Channels: opts.Channels},
		Samples: pcm16ToFloat(pcm),
	}, nil
}
