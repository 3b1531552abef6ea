package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/eponine0805/voice-app/internal/session"
)

// TranscribeCmd runs a recorded meeting through the file pipeline.
type TranscribeCmd struct {
	OutputFlags `embed:""`

	File       string  `arg:"" type:"existingfile" help:"Recording to transcribe (WAV natively, other containers through ffmpeg)"`
	Segment    float64 `help:"Chunk length in seconds (overrides the configured value)"`
	NoProgress bool    `help:"Do not draw a progress bar"`
}

func (t *TranscribeCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return err
	}
	if !t.NoProgress {
		a.quiet()
	}

	data, err := os.ReadFile(t.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", t.File, err)
	}

	segment := a.cfg.File.GetSegmentDuration()
	if t.Segment > 0 {
		segment = secondsToDuration(t.Segment)
	}

	c, cleanup, err := a.newSession(session.ModeFile, segment, t.Summarize, func(cfg *session.Config) {
		cfg.Decode = a.decoder()
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if err := c.RunFile(data); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !t.NoProgress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("transcribing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	watchProgress(ctx, c, updates, bar)
	<-c.Done()
	if bar != nil {
		bar.Finish()
	}

	return a.finishSession(ctx, c, t.OutputFlags)
}

// watchProgress mirrors chunk progress onto bar until the session stops
// publishing. Cancelling ctx aborts the session.
func watchProgress(ctx context.Context, c *session.Controller, updates <-chan session.Snapshot, bar *progressbar.ProgressBar) {
	total := -1
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				return
			}
			if bar == nil {
				continue
			}
			if s.ChunksEmitted > total {
				total = s.ChunksEmitted
				bar.ChangeMax(total)
			}
			bar.Set(s.ChunksCompleted)
		case <-ctx.Done():
			c.Abort()
			return
		}
	}
}
