package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
	"github.com/eponine0805/voice-app/internal/source"
	"github.com/eponine0805/voice-app/internal/summary"
	"github.com/eponine0805/voice-app/internal/transcript"
	"github.com/eponine0805/voice-app/internal/transcription"
)

// Default segment durations per mode.
const (
	DefaultLiveSegment = 15 * time.Second
	DefaultFileSegment = 180 * time.Second
)

// DecodeFunc turns an uploaded recording into samples.
type DecodeFunc func(ctx context.Context, data []byte) (*audio.Clip, error)

// Config describes one session.
type Config struct {
	ID              string
	Mode            Mode
	Opener          source.Opener // live sessions
	Decode          DecodeFunc    // file sessions; defaults to source.DecodeFile
	Transcriber     transcription.Transcriber
	Summarizer      summary.Summarizer // optional
	SegmentDuration time.Duration      // 0 picks the mode default
	RecordingPath   string             // archive WAV path, empty disables
	Observer        Observer
	Logger          *slog.Logger
}

// Controller runs the state machine of one session. All pipeline state is
// owned by a single control loop goroutine fed by events.
type Controller struct {
	id       string
	mode     Mode
	cfg      Config
	segment  time.Duration
	logger   *slog.Logger
	observer Observer

	ctx    context.Context // canceled by Abort
	cancel context.CancelFunc
	events chan any
	done   chan struct{}

	doneOnce sync.Once

	mu            sync.RWMutex
	state         State
	starting      bool
	aborted       bool
	createdAt     time.Time
	updatedAt     time.Time
	err           error
	agg           *transcript.Aggregator
	final         *transcript.Transcript
	minutes       string
	summaryErr    error
	summarizing   bool
	captured      time.Duration
	emitted       int
	completed     int
	failed        int
	recordingPath string
	flusher       *audio.Flusher
	captureStream source.Stream // kept for counters after release

	summarizeMu sync.Mutex

	subsMu     sync.Mutex
	subs       map[int]chan Snapshot
	nextSub    int
	subsClosed bool
}

// Control loop events.
type (
	segmentReady struct{ seg audio.AudioSegment }
	captureDone  struct{ err error }
	chunkDone    struct{ result transcription.ChunkResult }
	stopRequest  struct{}
)

// pipeline is the loop-owned part of a running session.
type pipeline struct {
	stream        source.Stream // nil once released
	cancelCapture context.CancelFunc
	producing     bool // capture or file segmentation still running
	queue         []audio.AudioSegment
	inflight      bool
	failure       error
}

// New creates an idle session.
func New(cfg Config) (*Controller, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}
	if cfg.Transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	switch cfg.Mode {
	case ModeLive:
		if cfg.Opener == nil {
			return nil, fmt.Errorf("live session requires an opener")
		}
	case ModeFile:
		if cfg.Decode == nil {
			cfg.Decode = func(ctx context.Context, data []byte) (*audio.Clip, error) {
				return source.DecodeFile(ctx, data, source.DecodeOptions{Logger: cfg.Logger})
			}
		}
	default:
		return nil, fmt.Errorf("unknown session mode: %q", cfg.Mode)
	}

	segment := cfg.SegmentDuration
	if segment <= 0 {
		segment = DefaultLiveSegment
		if cfg.Mode == ModeFile {
			segment = DefaultFileSegment
		}
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Controller{
		id:        cfg.ID,
		mode:      cfg.Mode,
		cfg:       cfg,
		segment:   segment,
		logger:    logger.With(slog.String("session_id", cfg.ID), slog.String("mode", string(cfg.Mode))),
		observer:  cfg.Observer,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan any, 16),
		done:      make(chan struct{}),
		state:     StateIdle,
		createdAt: now,
		updatedAt: now,
		agg:       transcript.NewAggregator(),
		subs:      make(map[int]chan Snapshot),
	}, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Mode returns the session mode.
func (c *Controller) Mode() Mode { return c.mode }

// Done is closed once the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the terminal failure cause, or the last start failure of an
// idle session.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Start acquires the live capture and begins segmenting. On acquisition
// failure the session stays idle and a CaptureUnavailable error is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeLive {
		c.mu.Unlock()
		return apperror.InvalidState("file sessions cannot be started")
	}
	if c.state != StateIdle || c.starting {
		st := c.state
		c.mu.Unlock()
		return apperror.InvalidState(fmt.Sprintf("session is %s", st))
	}
	c.starting = true
	c.mu.Unlock()

	stream, flusher, err := c.acquire(ctx)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		aborted := c.aborted
		if aborted {
			// Abort arrived while the opener was blocked.
			c.state = StateFailed
			c.err = fmt.Errorf("session aborted during start: %w", context.Canceled)
		} else {
			c.err = err
		}
		c.updatedAt = time.Now()
		c.mu.Unlock()

		c.logger.Warn("Capture unavailable", slog.String("error", err.Error()), slog.Bool("aborted", aborted))
		c.publish()
		if aborted {
			c.closeSubscribers()
			c.doneOnce.Do(func() { close(c.done) })
		}
		return err
	}

	archive := c.openArchive(stream.Format())

	captureCtx, cancelCapture := context.WithCancel(c.ctx)
	p := &pipeline{stream: stream, cancelCapture: cancelCapture, producing: true}

	c.mu.Lock()
	c.starting = false
	c.err = nil
	c.flusher = flusher
	c.captureStream = stream
	c.mu.Unlock()
	c.transition(StateCapturing)

	c.logger.Info("Capture started",
		slog.Int("sample_rate", stream.Format().SampleRate),
		slog.Int("channels", stream.Format().Channels),
		slog.Duration("segment", c.segment),
	)

	go c.capture(captureCtx, stream, flusher, archive)
	go c.run(p)
	return nil
}

func (c *Controller) acquire(ctx context.Context) (source.Stream, *audio.Flusher, error) {
	stream, err := c.cfg.Opener.Open(ctx)
	if err != nil {
		if apperror.KindOf(err) != apperror.KindCaptureUnavailable {
			err = apperror.CaptureUnavailable("failed to open capture", err)
		}
		return nil, nil, err
	}

	flusher, err := audio.NewFlusher(stream.Format(), c.segment)
	if err != nil {
		stream.Close()
		return nil, nil, apperror.CaptureUnavailable("unusable capture format", err)
	}
	return stream, flusher, nil
}

// RunFile processes an uploaded recording in the background. The session
// goes straight to draining; decode failures end it in the failed state.
func (c *Controller) RunFile(data []byte) error {
	c.mu.Lock()
	if c.mode != ModeFile {
		c.mu.Unlock()
		return apperror.InvalidState("live sessions cannot process files")
	}
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return apperror.InvalidState(fmt.Sprintf("session is %s", st))
	}
	c.mu.Unlock()

	c.transition(StateDraining)
	c.logger.Info("File processing started", slog.Int("size", len(data)))

	go c.produceFile(data)
	go c.run(&pipeline{producing: true})
	return nil
}

// Stop ends live capture. The capture device is released at once; chunks
// already emitted are still transcribed before the session finalizes.
func (c *Controller) Stop() error {
	switch st := c.State(); st {
	case StateCapturing:
	case StateDraining:
		return nil
	default:
		return apperror.InvalidState(fmt.Sprintf("session is %s", st))
	}

	select {
	case c.events <- stopRequest{}:
	case <-c.done:
	}
	return nil
}

// Abort abandons the session: capture is released, the in-flight
// transcription is canceled and the session fails.
func (c *Controller) Abort() {
	c.mu.Lock()
	c.aborted = true
	idle := c.state == StateIdle && !c.starting
	if idle {
		c.state = StateFailed
		c.err = errors.New("session aborted before start")
		c.updatedAt = time.Now()
	}
	c.mu.Unlock()

	c.cancel()
	if idle {
		c.publish()
		c.closeSubscribers()
		c.doneOnce.Do(func() { close(c.done) })
	}
}

func (c *Controller) send(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// capture reads the live stream until it ends or is released.
func (c *Controller) capture(ctx context.Context, stream source.Stream, flusher *audio.Flusher, archive *audio.Archive) {
	var captureErr error
	for {
		samples, err := stream.Read(ctx)
		if len(samples) > 0 {
			if archive != nil {
				if werr := archive.Write(samples); werr != nil {
					c.logger.Warn("Recording archive write failed", slog.String("error", werr.Error()))
					archive.Close()
					archive = nil
				}
			}
			for _, seg := range flusher.Write(samples) {
				c.send(segmentReady{seg: seg})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				captureErr = err
			}
			break
		}
	}

	if seg, ok := flusher.Flush(); ok {
		c.send(segmentReady{seg: seg})
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			c.logger.Warn("Failed to finalize recording archive", slog.String("error", err.Error()))
		}
	}
	c.send(captureDone{err: captureErr})
}

// produceFile decodes the upload and emits its segments in order.
func (c *Controller) produceFile(data []byte) {
	clip, err := c.cfg.Decode(c.ctx, data)
	if err != nil {
		if apperror.KindOf(err) != apperror.KindDecodeFailure && c.ctx.Err() == nil {
			err = apperror.DecodeFailure("failed to decode recording", err)
		}
		c.send(captureDone{err: err})
		return
	}

	segmenter, err := audio.NewFileSegmenter(clip, c.segment)
	if err != nil {
		c.send(captureDone{err: apperror.DecodeFailure("unusable recording format", err)})
		return
	}

	c.logger.Info("Recording decoded",
		slog.Duration("duration", clip.Duration()),
		slog.Int("sample_rate", clip.Format.SampleRate),
		slog.Int("channels", clip.Format.Channels),
		slog.Int("segments", segmenter.Count()),
	)

	if archive := c.openArchive(clip.Format); archive != nil {
		if err := archive.Write(clip.Samples); err != nil {
			c.logger.Warn("Recording archive write failed", slog.String("error", err.Error()))
		}
		if err := archive.Close(); err != nil {
			c.logger.Warn("Failed to finalize recording archive", slog.String("error", err.Error()))
		}
	}

	for {
		seg, ok := segmenter.Next()
		if !ok {
			break
		}
		c.send(segmentReady{seg: seg})
	}
	c.send(captureDone{})
}

func (c *Controller) openArchive(format audio.Format) *audio.Archive {
	if c.cfg.RecordingPath == "" {
		return nil
	}
	archive, err := audio.CreateArchive(c.cfg.RecordingPath, format)
	if err != nil {
		c.logger.Warn("Recording archive disabled", slog.String("error", err.Error()))
		return nil
	}
	c.mu.Lock()
	c.recordingPath = archive.Path()
	c.mu.Unlock()
	return archive
}

// run is the control loop. It exits once the session is terminal.
func (c *Controller) run(p *pipeline) {
	defer c.doneOnce.Do(func() { close(c.done) })

	for {
		if c.ctx.Err() != nil {
			c.abandon(p)
			return
		}
		if c.State() == StateDraining && !p.producing && !p.inflight && len(p.queue) == 0 {
			c.finish(p)
			return
		}

		select {
		case ev := <-c.events:
			switch ev := ev.(type) {
			case segmentReady:
				c.onSegment(p, ev.seg)
			case chunkDone:
				c.onChunk(p, ev.result)
			case stopRequest:
				c.onStop(p)
			case captureDone:
				c.onCaptureDone(p, ev.err)
			}
		case <-c.ctx.Done():
			c.abandon(p)
			return
		}
	}
}

func (c *Controller) onSegment(p *pipeline, seg audio.AudioSegment) {
	if err := c.agg.Expect(seg.Index); err != nil {
		c.logger.Error("Segment out of sequence", slog.Int("chunk_index", seg.Index), slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	c.emitted++
	if end := seg.End(); end > c.captured {
		c.captured = end
	}
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("Segment ready",
		slog.Int("chunk_index", seg.Index),
		slog.Duration("start", seg.Start()),
		slog.Duration("duration", seg.Duration()),
	)

	p.queue = append(p.queue, seg)
	c.dispatch(p)
	c.publish()
}

// dispatch starts transcribing the next queued segment unless a request
// is already in flight.
func (c *Controller) dispatch(p *pipeline) {
	for !p.inflight && len(p.queue) > 0 {
		seg := p.queue[0]
		p.queue[0] = audio.AudioSegment{}
		p.queue = p.queue[1:]

		chunk, err := audio.EncodeChunk(seg)
		if err != nil {
			c.record(transcription.ChunkResult{
				Index:   seg.Index,
				Start:   seg.Start(),
				End:     seg.End(),
				Failure: &transcription.Failure{Category: transcription.FailureEncode, Message: err.Error()},
			})
			continue
		}

		p.inflight = true
		go func() {
			c.send(chunkDone{result: c.cfg.Transcriber.Transcribe(c.ctx, chunk)})
		}()
	}
}

func (c *Controller) onChunk(p *pipeline, result transcription.ChunkResult) {
	p.inflight = false
	c.record(result)
	c.dispatch(p)
	c.publish()
}

func (c *Controller) record(result transcription.ChunkResult) {
	if err := c.agg.Append(result); err != nil {
		c.logger.Error("Chunk result rejected", slog.Int("chunk_index", result.Index), slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	c.completed++
	if !result.OK() {
		c.failed++
	}
	c.updatedAt = time.Now()
	c.mu.Unlock()

	if result.OK() {
		c.logger.Info("Chunk transcribed",
			slog.Int("chunk_index", result.Index),
			slog.Int("text_length", len(result.Text)),
		)
	} else {
		c.logger.Warn("Chunk recorded as placeholder",
			slog.Int("chunk_index", result.Index),
			slog.String("category", string(result.Failure.Category)),
			slog.String("error", result.Failure.Message),
		)
	}
	c.observer.ChunkCompleted(c.id, result)
}

func (c *Controller) onStop(p *pipeline) {
	if c.State() != StateCapturing {
		return
	}
	c.logger.Info("Stop requested, draining", slog.Int("pending", len(p.queue)), slog.Bool("inflight", p.inflight))
	c.transition(StateDraining)
	c.release(p)
}

func (c *Controller) onCaptureDone(p *pipeline, err error) {
	p.producing = false
	c.release(p)

	if err != nil {
		p.failure = err
		c.logger.Error("Audio source failed", slog.String("error", err.Error()))
	}
	if c.State() == StateCapturing {
		if err == nil {
			c.logger.Info("Capture ended by source")
		}
		c.transition(StateDraining)
	}
}

// release closes the capture stream. Safe to call repeatedly.
func (c *Controller) release(p *pipeline) {
	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			c.logger.Warn("Failed to release capture", slog.String("error", err.Error()))
		} else {
			c.logger.Debug("Capture released")
		}
		p.stream = nil
	}
	if p.cancelCapture != nil {
		p.cancelCapture()
	}
}

// finish finalizes the transcript once every emitted chunk has a result.
func (c *Controller) finish(p *pipeline) {
	t, err := c.agg.Finalize()

	c.mu.Lock()
	switch {
	case err != nil:
		c.state = StateFailed
		c.err = err
	case p.failure != nil:
		c.state = StateFailed
		c.err = p.failure
		if t.Len() > 0 {
			c.final = &t
		}
	default:
		c.state = StateFinalized
		c.final = &t
	}
	c.updatedAt = time.Now()
	state, final := c.state, c.final
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Transcript incomplete", slog.String("error", err.Error()))
	}
	if final != nil {
		c.observer.SessionFinalized(c.id, *final)
	}
	c.logger.Info("Session finished",
		slog.String("state", string(state)),
		slog.Int("chunks", t.Len()),
		slog.Int("failed_chunks", len(t.Failed())),
	)

	c.publish()
	c.closeSubscribers()
}

// abandon tears the session down after Abort.
func (c *Controller) abandon(p *pipeline) {
	c.release(p)

	c.mu.Lock()
	c.state = StateFailed
	c.err = fmt.Errorf("session aborted: %w", context.Canceled)
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Warn("Session aborted", slog.Int("pending", len(p.queue)), slog.Bool("inflight", p.inflight))
	c.publish()
	c.closeSubscribers()
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("Session state changed", slog.String("from", string(from)), slog.String("to", string(to)))
	c.publish()
}

// Transcript returns the finalized transcript, if any.
func (c *Controller) Transcript() (transcript.Transcript, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.final == nil {
		return transcript.Transcript{}, false
	}
	return *c.final, true
}

// Minutes returns the generated minutes, if any.
func (c *Controller) Minutes() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minutes, c.minutes != ""
}

// RecordingPath returns the archive file once it has been created.
func (c *Controller) RecordingPath() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recordingPath, c.recordingPath != ""
}

// Summarize sends the finalized transcript to the summarizer. A failure
// leaves the transcript untouched and can be retried.
func (c *Controller) Summarize(ctx context.Context) (string, error) {
	c.summarizeMu.Lock()
	defer c.summarizeMu.Unlock()

	c.mu.Lock()
	if c.state != StateFinalized {
		st := c.state
		c.mu.Unlock()
		return "", apperror.InvalidState(fmt.Sprintf("session is %s", st))
	}
	if c.cfg.Summarizer == nil {
		c.mu.Unlock()
		return "", apperror.SummarizationUnavailable("no summarizer configured", nil)
	}
	text := c.final.Text()
	c.summarizing = true
	c.updatedAt = time.Now()
	c.mu.Unlock()
	c.publish()

	start := time.Now()
	minutes, err := c.cfg.Summarizer.Summarize(ctx, text)
	if err != nil && apperror.KindOf(err) != apperror.KindSummarizationUnavailable {
		err = apperror.SummarizationUnavailable("summarization failed", err)
	}

	c.mu.Lock()
	c.summarizing = false
	if err != nil {
		c.summaryErr = err
	} else {
		c.minutes = minutes
		c.summaryErr = nil
	}
	c.updatedAt = time.Now()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Summarization failed", slog.String("error", err.Error()), slog.Duration("elapsed", time.Since(start)))
	} else {
		c.logger.Info("Minutes generated", slog.Int("length", len(minutes)), slog.Duration("elapsed", time.Since(start)))
	}
	c.observer.SessionSummarized(c.id, minutes, err)
	c.publish()
	return minutes, err
}

// Snapshot returns the current view of the session.
func (c *Controller) Snapshot() Snapshot {
	partial := c.agg.Partial()

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		ID:              c.id,
		Mode:            c.mode,
		State:           c.state,
		CreatedAt:       c.createdAt,
		UpdatedAt:       c.updatedAt,
		ChunksEmitted:   c.emitted,
		ChunksCompleted: c.completed,
		ChunksFailed:    c.failed,
		Captured:        c.captured,
		Partial:         partial,
		HasTranscript:   c.final != nil,
		HasMinutes:      c.minutes != "",
		HasRecording:    c.recordingPath != "",
		Summarizing:     c.summarizing,
	}
	if c.summaryErr != nil {
		s.SummaryError = c.summaryErr.Error()
	}
	if c.err != nil {
		s.Error = c.err.Error()
		s.ErrorKind = apperror.KindOf(c.err)
	}
	if c.flusher != nil {
		s.Capture = &CaptureStats{Segmenter: c.flusher.GetStats()}
		if stats, ok := source.Statistics(c.captureStream); ok {
			s.Capture.Network = &stats
		}
	}
	return s
}

// Subscribe returns a channel carrying the latest snapshot. Slow readers
// only ever see the most recent value. The channel is closed once the
// control loop ends; call cancel to unsubscribe earlier.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- c.Snapshot()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.subsClosed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Controller) publish() {
	s := c.Snapshot()
	c.observer.SessionChanged(s)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		offer(ch, s)
	}
}

// offer replaces any unread value with s. Callers hold subsMu.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}

func (c *Controller) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subsClosed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
