package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/session"
	"github.com/eponine0805/voice-app/internal/store"
	"github.com/eponine0805/voice-app/internal/summary"
	"github.com/eponine0805/voice-app/internal/tui"
)

// OutputFlags control where a finished session is written.
type OutputFlags struct {
	Out        string `short:"o" type:"path" help:"Write the transcript to this file instead of stdout"`
	Plain      bool   `help:"Write running text without chunk time ranges"`
	Summarize  bool   `short:"s" help:"Generate minutes once the transcript is final"`
	MinutesOut string `type:"path" help:"Write the minutes to this file instead of stdout"`
}

// RecordCmd captures a live meeting with a terminal status view.
type RecordCmd struct {
	OutputFlags `embed:""`

	Recording string  `type:"path" help:"Archive the captured audio to this WAV file"`
	Segment   float64 `help:"Chunk length in seconds (overrides the configured value)"`
}

func (r *RecordCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return err
	}
	a.quiet()

	opener := a.opener()
	if opener == nil {
		return apperror.CaptureUnavailable("capture source is disabled in the configuration", nil)
	}

	segment := a.cfg.Capture.GetSegmentDuration()
	if r.Segment > 0 {
		segment = secondsToDuration(r.Segment)
	}

	c, cleanup, err := a.newSession(session.ModeLive, segment, r.Summarize, func(cfg *session.Config) {
		cfg.Opener = opener
		cfg.RecordingPath = r.Recording
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return err
	}

	if _, err := tui.Run(ctx, c); err != nil {
		a.logger.Error("Terminal view failed", slog.String("error", err.Error()))
		if c.State() == session.StateCapturing {
			c.Stop()
		}
	}
	<-c.Done()

	return a.finishSession(context.Background(), c, r.OutputFlags)
}

// newSession builds a standalone session controller wired to the store when
// persistence is enabled. withSummary adds a summarizer.
func (a *app) newSession(mode session.Mode, segment time.Duration, withSummary bool, configure func(*session.Config)) (*session.Controller, func(), error) {
	tr, err := a.transcriber()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transcriber: %w", err)
	}

	var sum summary.Summarizer
	if withSummary {
		if sum, err = a.summarizer(); err != nil {
			return nil, nil, fmt.Errorf("failed to create summarizer: %w", err)
		}
	}

	cleanup := func() {}
	var observer session.Observer = session.NopObserver{}
	st, err := a.openStore()
	if err != nil {
		a.logger.Warn("Continuing without persistence", slog.String("error", err.Error()))
	} else if st != nil {
		observer = store.NewRecorder(st, a.logger, a.placeholder())
		cleanup = func() { st.Close() }
	}

	cfg := session.Config{
		ID:              uuid.NewString(),
		Mode:            mode,
		Transcriber:     tr,
		Summarizer:      sum,
		SegmentDuration: segment,
		Observer:        observer,
		Logger:          a.logger,
	}
	configure(&cfg)

	c, err := session.New(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return c, cleanup, nil
}

// finishSession writes the transcript of a finished session and, when
// requested, its minutes.
func (a *app) finishSession(ctx context.Context, c *session.Controller, out OutputFlags) error {
	t, ok := c.Transcript()
	if !ok {
		if err := c.Err(); err != nil {
			return err
		}
		return fmt.Errorf("session %s produced no transcript", c.ID())
	}
	if err := writeOutput(out.Out, formatTranscript(t, a.placeholder(), out.Plain)); err != nil {
		return err
	}
	if failed := t.Failed(); len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d chunks could not be transcribed\n", len(failed), t.Len())
	}
	if err := c.Err(); err != nil {
		// Failed live sessions keep their partial transcript.
		return err
	}

	if !out.Summarize {
		return nil
	}
	minutes, err := c.Summarize(ctx)
	if err != nil {
		return err
	}
	return writeOutput(out.MinutesOut, minutes+"\n")
}
