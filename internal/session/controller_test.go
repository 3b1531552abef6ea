package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
	"github.com/eponine0805/voice-app/internal/source"
	"github.com/eponine0805/voice-app/internal/transcript"
	"github.com/eponine0805/voice-app/internal/transcription"
)

// 100 Hz keeps test buffers small: one second is 100 samples.
var testFormat = audio.Format{SampleRate: 100, Channels: 1}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStream delivers queued one-second blocks and reports io.EOF once
// the queue is closed.
type fakeStream struct {
	blocks  chan []float32
	failErr error // returned instead of io.EOF when set

	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeStream(buffered int) *fakeStream {
	return &fakeStream{
		blocks: make(chan []float32, buffered),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) push(seconds int) {
	for i := 0; i < seconds; i++ {
		s.blocks <- make([]float32, testFormat.SampleRate)
	}
}

func (s *fakeStream) Format() audio.Format { return testFormat }

func (s *fakeStream) Read(ctx context.Context) ([]float32, error) {
	select {
	case b, ok := <-s.blocks:
		if !ok {
			if s.failErr != nil {
				return nil, s.failErr
			}
			return nil, io.EOF
		}
		return b, nil
	case <-s.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func openerFor(s source.Stream) source.Opener {
	return source.OpenerFunc(func(context.Context) (source.Stream, error) { return s, nil })
}

// fakeTranscriber records call order and concurrency.
type fakeTranscriber struct {
	fail    map[int]bool
	delay   time.Duration
	gate    chan struct{} // when set, each call waits for one value
	started chan int      // when set, receives each index as its call begins

	mu          sync.Mutex
	calls       []int
	inflight    int
	maxInflight int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, chunk audio.EncodedChunk) transcription.ChunkResult {
	f.mu.Lock()
	f.calls = append(f.calls, chunk.Index)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- chunk.Index
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return transcription.Failed(chunk, transcription.FailureCanceled, ctx.Err().Error())
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[chunk.Index] {
		return transcription.Failed(chunk, transcription.FailureTransport, "connection refused")
	}
	return transcription.Succeeded(chunk, fmt.Sprintf("text%d", chunk.Index))
}

func (f *fakeTranscriber) callOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type stubSummarizer struct {
	mu      sync.Mutex
	errs    []error // consumed per call; nil entries succeed
	calls   int
	lastArg string
}

func (s *stubSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastArg = transcript
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	if err != nil {
		return "", err
	}
	return "議事録", nil
}

func newLive(t *testing.T, stream source.Stream, tr transcription.Transcriber, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		ID:              "live-1",
		Mode:            ModeLive,
		Opener:          openerFor(stream),
		Transcriber:     tr,
		SegmentDuration: 15 * time.Second,
		Logger:          quietLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func newFile(t *testing.T, clip *audio.Clip, decodeErr error, tr transcription.Transcriber, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		ID:   "file-1",
		Mode: ModeFile,
		Decode: func(context.Context, []byte) (*audio.Clip, error) {
			return clip, decodeErr
		},
		Transcriber:     tr,
		SegmentDuration: 180 * time.Second,
		Logger:          quietLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func clipOf(seconds int) *audio.Clip {
	return &audio.Clip{Format: testFormat, Samples: make([]float32, seconds*testFormat.SampleRate)}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finish, state %s", c.ID(), c.State())
	}
}

func TestNewValidation(t *testing.T) {
	tr := &fakeTranscriber{}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing id", Config{Mode: ModeFile, Transcriber: tr}},
		{"missing transcriber", Config{ID: "x", Mode: ModeFile}},
		{"live without opener", Config{ID: "x", Mode: ModeLive, Transcriber: tr}},
		{"unknown mode", Config{ID: "x", Mode: "stream", Transcriber: tr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	c, err := New(Config{ID: "x", Mode: ModeFile, Transcriber: tr})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.segment != DefaultFileSegment {
		t.Errorf("file default segment = %v, want %v", c.segment, DefaultFileSegment)
	}
}

// 40 s of live audio at D=15s ends as 15s, 15s and a 10s tail.
func TestLiveSessionThreeChunks(t *testing.T) {
	stream := newFakeStream(64)
	tr := &fakeTranscriber{}
	c := newLive(t, stream, tr)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := c.State(); got != StateCapturing {
		t.Fatalf("state after Start = %s", got)
	}

	stream.push(40)
	close(stream.blocks)
	waitDone(t, c)

	if got := c.State(); got != StateFinalized {
		t.Fatalf("state = %s, want finalized (err %v)", got, c.Err())
	}
	tr1, ok := c.Transcript()
	if !ok {
		t.Fatal("expected transcript")
	}
	if tr1.Len() != 3 {
		t.Fatalf("entries = %d, want 3", tr1.Len())
	}
	wantEnds := []time.Duration{15 * time.Second, 30 * time.Second, 40 * time.Second}
	for i, e := range tr1.Entries {
		if e.Index != i || e.End != wantEnds[i] {
			t.Errorf("entry %d = index %d end %v, want end %v", i, e.Index, e.End, wantEnds[i])
		}
	}
	if got := tr1.Text(); got != "text0 text1 text2" {
		t.Errorf("Text() = %q", got)
	}
	if stream.closes.Load() == 0 {
		t.Error("capture was not released")
	}

	snap := c.Snapshot()
	if snap.ChunksEmitted != 3 || snap.ChunksCompleted != 3 || snap.Pending() != 0 {
		t.Errorf("snapshot counters = %+v", snap)
	}
	if snap.Captured != 40*time.Second {
		t.Errorf("captured = %v, want 40s", snap.Captured)
	}
	if snap.Capture == nil {
		t.Fatal("live snapshot should carry capture counters")
	}
	if seg := snap.Capture.Segmenter; seg.SegmentsEmitted != 3 || seg.TotalDuration != 40*time.Second || seg.Interval != 15*time.Second {
		t.Errorf("segmenter counters = %+v", seg)
	}
	if snap.Capture.Network != nil {
		t.Errorf("non-network capture reported packets: %+v", snap.Capture.Network)
	}
}

func TestLiveSessionFailedMiddleChunk(t *testing.T) {
	stream := newFakeStream(64)
	tr := &fakeTranscriber{fail: map[int]bool{1: true}}
	c := newLive(t, stream, tr)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.push(45)
	close(stream.blocks)
	waitDone(t, c)

	if got := c.State(); got != StateFinalized {
		t.Fatalf("state = %s, want finalized", got)
	}
	tr1, _ := c.Transcript()
	if tr1.Len() != 3 {
		t.Fatalf("entries = %d, want 3", tr1.Len())
	}
	if tr1.Entries[1].OK() {
		t.Error("chunk 1 should be a placeholder")
	}
	if got := tr1.Text(); got != "text0 text2" {
		t.Errorf("Text() = %q", got)
	}
	if got := c.Snapshot().ChunksFailed; got != 1 {
		t.Errorf("ChunksFailed = %d, want 1", got)
	}
}

func TestTranscriptionIsSerialized(t *testing.T) {
	tr := &fakeTranscriber{delay: 10 * time.Millisecond}
	c := newFile(t, clipOf(100), nil, tr, func(cfg *Config) { cfg.SegmentDuration = 10 * time.Second })

	if err := c.RunFile(nil); err != nil {
		t.Fatalf("RunFile failed: %v", err)
	}
	waitDone(t, c)

	if tr.maxInflight != 1 {
		t.Errorf("max concurrent transcriptions = %d, want 1", tr.maxInflight)
	}
	calls := tr.callOrder()
	if len(calls) != 10 {
		t.Fatalf("calls = %v, want 10", calls)
	}
	for i, idx := range calls {
		if idx != i {
			t.Fatalf("call order = %v", calls)
		}
	}
}

func TestStopReleasesCaptureBeforeInflightCompletes(t *testing.T) {
	stream := newFakeStream(64)
	tr := &fakeTranscriber{gate: make(chan struct{}), started: make(chan int, 4)}
	c := newLive(t, stream, tr)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.push(15)

	select {
	case <-tr.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first chunk was never transcribed")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for !stream.isClosed() {
		select {
		case <-deadline:
			t.Fatal("capture not released while transcription in flight")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if st := c.State(); st != StateDraining {
		t.Errorf("state while draining = %s", st)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	tr.gate <- struct{}{}
	waitDone(t, c)

	if got := c.State(); got != StateFinalized {
		t.Fatalf("state = %s, want finalized", got)
	}
	tr1, _ := c.Transcript()
	if tr1.Len() != 1 || !tr1.Entries[0].OK() {
		t.Errorf("transcript = %+v", tr1.Entries)
	}
}

func TestStartCaptureUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"typed", apperror.CaptureUnavailable("permission denied", nil)},
		{"plain", errors.New("device busy")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newLive(t, nil, &fakeTranscriber{}, func(cfg *Config) {
				cfg.Opener = source.OpenerFunc(func(context.Context) (source.Stream, error) { return nil, tt.err })
			})

			err := c.Start(context.Background())
			if apperror.KindOf(err) != apperror.KindCaptureUnavailable {
				t.Fatalf("Start error = %v, want capture unavailable", err)
			}
			if st := c.State(); st != StateIdle {
				t.Errorf("state = %s, want idle", st)
			}
			if snap := c.Snapshot(); snap.ErrorKind != apperror.KindCaptureUnavailable {
				t.Errorf("snapshot error kind = %q", snap.ErrorKind)
			}
		})
	}
}

func TestStartTwice(t *testing.T) {
	stream := newFakeStream(4)
	c := newLive(t, stream, &fakeTranscriber{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(context.Background()); apperror.KindOf(err) != apperror.KindInvalidState {
		t.Errorf("second Start error = %v, want invalid state", err)
	}
	if err := c.RunFile(nil); apperror.KindOf(err) != apperror.KindInvalidState {
		t.Errorf("RunFile on live session = %v, want invalid state", err)
	}
	c.Stop()
	waitDone(t, c)

	if err := c.Start(context.Background()); apperror.KindOf(err) != apperror.KindInvalidState {
		t.Errorf("Start after finalize = %v, want invalid state", err)
	}
	if err := c.Stop(); apperror.KindOf(err) != apperror.KindInvalidState {
		t.Errorf("Stop after finalize = %v, want invalid state", err)
	}
}

func TestCaptureErrorFailsSessionKeepingTranscript(t *testing.T) {
	stream := newFakeStream(64)
	stream.failErr = apperror.CaptureUnavailable("device unplugged", nil)
	c := newLive(t, stream, &fakeTranscriber{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.push(20)
	close(stream.blocks)
	waitDone(t, c)

	if got := c.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if apperror.KindOf(c.Err()) != apperror.KindCaptureUnavailable {
		t.Errorf("Err() = %v", c.Err())
	}
	tr1, ok := c.Transcript()
	if !ok || tr1.Len() != 2 {
		t.Errorf("transcript kept = %v, entries %d", ok, tr1.Len())
	}
	if stream.closes.Load() == 0 {
		t.Error("capture was not released")
	}
}

func TestAbortReleasesCapture(t *testing.T) {
	stream := newFakeStream(64)
	tr := &fakeTranscriber{gate: make(chan struct{}), started: make(chan int, 4)}
	c := newLive(t, stream, tr)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.push(15)
	<-tr.started

	c.Abort()
	waitDone(t, c)

	if got := c.State(); got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if !stream.isClosed() {
		t.Error("capture was not released")
	}
	if !errors.Is(c.Err(), context.Canceled) {
		t.Errorf("Err() = %v", c.Err())
	}
}

func TestAbortWhileOpening(t *testing.T) {
	opening := make(chan struct{})
	release := make(chan struct{})
	c := newLive(t, nil, &fakeTranscriber{}, func(cfg *Config) {
		cfg.Opener = source.OpenerFunc(func(context.Context) (source.Stream, error) {
			close(opening)
			<-release
			return nil, errors.New("permission denied")
		})
	})
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()

	<-opening
	c.Abort()
	close(release)

	if err := <-started; apperror.KindOf(err) != apperror.KindCaptureUnavailable {
		t.Errorf("Start error = %v, want capture unavailable", err)
	}
	waitDone(t, c)

	if got := c.State(); got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if !errors.Is(c.Err(), context.Canceled) {
		t.Errorf("Err() = %v", c.Err())
	}
	for range updates {
	}
}

func TestAbortIdle(t *testing.T) {
	c := newLive(t, newFakeStream(1), &fakeTranscriber{})
	c.Abort()
	waitDone(t, c)
	if got := c.State(); got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
}

func TestFileSessionSegments(t *testing.T) {
	tr := &fakeTranscriber{}
	c := newFile(t, clipOf(400), nil, tr)

	if err := c.RunFile([]byte("ignored")); err != nil {
		t.Fatalf("RunFile failed: %v", err)
	}
	if err := c.RunFile(nil); apperror.KindOf(err) != apperror.KindInvalidState {
		t.Errorf("second RunFile = %v, want invalid state", err)
	}
	waitDone(t, c)

	tr1, ok := c.Transcript()
	if !ok {
		t.Fatalf("no transcript, state %s err %v", c.State(), c.Err())
	}
	want := []time.Duration{180 * time.Second, 180 * time.Second, 40 * time.Second}
	if tr1.Len() != len(want) {
		t.Fatalf("entries = %d, want %d", tr1.Len(), len(want))
	}
	for i, e := range tr1.Entries {
		if got := e.End - e.Start; got != want[i] {
			t.Errorf("entry %d length = %v, want %v", i, got, want[i])
		}
	}
}

func TestFileSessionDecodeFailure(t *testing.T) {
	c := newFile(t, nil, errors.New("not audio"), &fakeTranscriber{})

	if err := c.RunFile([]byte("garbage")); err != nil {
		t.Fatalf("RunFile failed: %v", err)
	}
	waitDone(t, c)

	if got := c.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if apperror.KindOf(c.Err()) != apperror.KindDecodeFailure {
		t.Errorf("Err() = %v, want decode failure", c.Err())
	}
	if _, ok := c.Transcript(); ok {
		t.Error("failed decode should not expose a transcript")
	}
}

func TestFileSessionEmptyClip(t *testing.T) {
	c := newFile(t, clipOf(0), nil, &fakeTranscriber{})
	if err := c.RunFile(nil); err != nil {
		t.Fatalf("RunFile failed: %v", err)
	}
	waitDone(t, c)

	tr1, ok := c.Transcript()
	if !ok || tr1.Len() != 0 {
		t.Errorf("transcript = %v, %d entries", ok, tr1.Len())
	}
}

func TestSummarizeFailureKeepsTranscript(t *testing.T) {
	sum := &stubSummarizer{errs: []error{errors.New("upstream 503"), nil}}
	c := newFile(t, clipOf(200), nil, &fakeTranscriber{}, func(cfg *Config) { cfg.Summarizer = sum })

	if _, err := c.Summarize(context.Background()); apperror.KindOf(err) != apperror.KindInvalidState {
		t.Errorf("Summarize before finalize = %v, want invalid state", err)
	}

	c.RunFile(nil)
	waitDone(t, c)

	_, err := c.Summarize(context.Background())
	if apperror.KindOf(err) != apperror.KindSummarizationUnavailable {
		t.Fatalf("Summarize error = %v, want summarization unavailable", err)
	}
	if got := c.State(); got != StateFinalized {
		t.Errorf("state = %s, want finalized", got)
	}
	tr1, ok := c.Transcript()
	if !ok || tr1.Text() != "text0 text1" {
		t.Errorf("transcript after failed summary = %q, %v", tr1.Text(), ok)
	}
	snap := c.Snapshot()
	if snap.SummaryError == "" || snap.HasMinutes {
		t.Errorf("snapshot = %+v", snap)
	}

	minutes, err := c.Summarize(context.Background())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got, ok := c.Minutes(); !ok || got != minutes {
		t.Errorf("Minutes() = %q, %v", got, ok)
	}
	if sum.lastArg != "text0 text1" {
		t.Errorf("summarizer input = %q", sum.lastArg)
	}
	if snap := c.Snapshot(); snap.SummaryError != "" || !snap.HasMinutes {
		t.Errorf("snapshot after retry = %+v", snap)
	}
}

func TestSummarizeWithoutSummarizer(t *testing.T) {
	c := newFile(t, clipOf(10), nil, &fakeTranscriber{})
	c.RunFile(nil)
	waitDone(t, c)

	if _, err := c.Summarize(context.Background()); apperror.KindOf(err) != apperror.KindSummarizationUnavailable {
		t.Errorf("Summarize = %v", err)
	}
}

func TestSubscribeSeesFinalState(t *testing.T) {
	c := newFile(t, clipOf(400), nil, &fakeTranscriber{delay: time.Millisecond})

	ch, cancel := c.Subscribe()
	defer cancel()

	first := <-ch
	if first.State != StateIdle {
		t.Errorf("first snapshot state = %s, want idle", first.State)
	}

	c.RunFile(nil)

	var last Snapshot
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case s, ok := <-ch:
			if !ok {
				done = true
				break
			}
			last = s
		case <-timeout:
			t.Fatal("subscription never closed")
		}
	}
	if last.State != StateFinalized || !last.HasTranscript {
		t.Errorf("last snapshot = %+v", last)
	}

	late, _ := c.Subscribe()
	s, ok := <-late
	if !ok || s.State != StateFinalized {
		t.Errorf("late subscriber got %+v, %v", s, ok)
	}
	if _, ok := <-late; ok {
		t.Error("late subscription should be closed")
	}
}

func TestSubscribeCancel(t *testing.T) {
	c := newFile(t, clipOf(10), nil, &fakeTranscriber{})
	ch, cancel := c.Subscribe()
	<-ch
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("canceled subscription should be closed")
	}
}

type recordingObserver struct {
	NopObserver
	mu        sync.Mutex
	chunks    []int
	finalized int
}

func (r *recordingObserver) ChunkCompleted(_ string, res transcription.ChunkResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, res.Index)
}

func (r *recordingObserver) SessionFinalized(string, transcript.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized++
}

func TestObserverAndRecording(t *testing.T) {
	obs := &recordingObserver{}
	path := filepath.Join(t.TempDir(), "rec.wav")
	c := newFile(t, clipOf(30), nil, &fakeTranscriber{}, func(cfg *Config) {
		cfg.Observer = obs
		cfg.RecordingPath = path
		cfg.SegmentDuration = 10 * time.Second
	})

	c.RunFile(nil)
	waitDone(t, c)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if fmt.Sprint(obs.chunks) != "[0 1 2]" {
		t.Errorf("observed chunks = %v", obs.chunks)
	}
	if obs.finalized != 1 {
		t.Errorf("finalized events = %d", obs.finalized)
	}

	got, ok := c.RecordingPath()
	if !ok || !strings.HasSuffix(got, "rec.wav") {
		t.Errorf("RecordingPath() = %q, %v", got, ok)
	}
}
