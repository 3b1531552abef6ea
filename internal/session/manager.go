package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/source"
	"github.com/eponine0805/voice-app/internal/summary"
	"github.com/eponine0805/voice-app/internal/transcription"
)

// Manager defaults.
const (
	DefaultRetention       = time.Hour
	DefaultCleanupInterval = 30 * time.Second
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Opener          source.Opener // nil disables live sessions
	Decode          DecodeFunc
	Transcriber     transcription.Transcriber
	Summarizer      summary.Summarizer
	LiveSegment     time.Duration
	FileSegment     time.Duration
	RecordingsDir   string // empty disables recording archives
	Retention       time.Duration
	CleanupInterval time.Duration
	Observer        Observer
}

// Manager keeps track of sessions and removes finished ones once their
// retention period has passed. At most one live session captures at a time.
type Manager struct {
	sessions map[string]*Controller
	mu       sync.RWMutex
	liveMu   sync.Mutex
	config   ManagerConfig
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine.
func NewManager(logger *slog.Logger, config ManagerConfig) (*Manager, error) {
	if config.Transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions: make(map[string]*Controller),
		config:   config,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go m.startCleanupRoutine()

	return m, nil
}

func (m *Manager) newController(mode Mode, segment time.Duration) (*Controller, error) {
	id := uuid.NewString()
	var recording string
	if m.config.RecordingsDir != "" {
		recording = filepath.Join(m.config.RecordingsDir, id+".wav")
	}
	return New(Config{
		ID:              id,
		Mode:            mode,
		Opener:          m.config.Opener,
		Decode:          m.config.Decode,
		Transcriber:     m.config.Transcriber,
		Summarizer:      m.config.Summarizer,
		SegmentDuration: segment,
		RecordingPath:   recording,
		Observer:        m.config.Observer,
		Logger:          m.logger,
	})
}

// CreateLive creates a live session and starts capturing. A session whose
// capture cannot be acquired is not registered.
func (m *Manager) CreateLive(ctx context.Context) (*Controller, error) {
	if m.config.Opener == nil {
		return nil, apperror.CaptureUnavailable("live capture is not configured", nil)
	}

	m.liveMu.Lock()
	defer m.liveMu.Unlock()

	if active, ok := m.capturing(); ok {
		return nil, apperror.InvalidState(fmt.Sprintf("session %s is already capturing", active))
	}

	c, err := m.newController(ModeLive, m.config.LiveSegment)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	m.add(c)
	return c, nil
}

// CreateFile creates a file session and starts processing data.
func (m *Manager) CreateFile(data []byte) (*Controller, error) {
	c, err := m.newController(ModeFile, m.config.FileSegment)
	if err != nil {
		return nil, err
	}
	m.add(c)

	if err := c.RunFile(data); err != nil {
		m.Remove(c.ID())
		return nil, err
	}
	return c, nil
}

func (m *Manager) add(c *Controller) {
	m.mu.Lock()
	m.sessions[c.ID()] = c
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("Session created",
		slog.String("session_id", c.ID()),
		slog.String("mode", string(c.Mode())),
		slog.Int("total_sessions", count),
	)
}

func (m *Manager) capturing() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.sessions {
		if c.Mode() == ModeLive && c.State() == StateCapturing {
			return id, true
		}
	}
	return "", false
}

// Get looks up a session.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.sessions[id]
	if !ok {
		return nil, apperror.NotFound("session", id)
	}
	return c, nil
}

// List returns snapshots of all sessions, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	list := make([]Snapshot, 0, len(m.sessions))
	for _, c := range m.sessions {
		list = append(list, c.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

// GetActiveSessionCount returns the number of sessions that have not
// reached a terminal state.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.sessions {
		if !c.State().Terminal() {
			n++
		}
	}
	return n
}

// Remove aborts a session if it is still running and forgets it.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	c, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	snap := c.Snapshot()
	if !snap.State.Terminal() {
		c.Abort()
	}
	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.String("state", string(snap.State)),
		slog.Duration("age", time.Since(snap.CreatedAt)),
		slog.Int("chunks", snap.ChunksEmitted),
	)
	return true
}

// GetTranscriptionStats returns statistics of the transcription backend,
// if it keeps any.
func (m *Manager) GetTranscriptionStats() (transcription.ClientStats, bool) {
	r, ok := m.config.Transcriber.(transcription.StatsReporter)
	if !ok {
		return transcription.ClientStats{}, false
	}
	return r.GetStats(), true
}

// Stop gracefully stops the manager. Capturing sessions are stopped and
// every running session gets until ctx is done to drain before it is
// aborted.
func (m *Manager) Stop(ctx context.Context) {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.cleanup

	m.mu.RLock()
	running := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		if !c.State().Terminal() {
			running = append(running, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range running {
		if c.State() == StateCapturing {
			_ = c.Stop()
		}
	}

	aborted := 0
	for _, c := range running {
		select {
		case <-c.Done():
		case <-ctx.Done():
			c.Abort()
			<-c.Done()
			aborted++
		}
	}

	m.logger.Info("Session manager stopped",
		slog.Int("drained_sessions", len(running)-aborted),
		slog.Int("aborted_sessions", aborted),
	)
}

// startCleanupRoutine runs in a separate goroutine to remove expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Session cleanup routine started",
		slog.Duration("retention", m.config.Retention),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes finished sessions untouched for longer
// than the retention period.
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	expired := make([]string, 0)

	m.mu.RLock()
	for id, c := range m.sessions {
		snap := c.Snapshot()
		if snap.State.Terminal() && !snap.Summarizing && now.Sub(snap.UpdatedAt) > m.config.Retention {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))
		for _, id := range expired {
			m.Remove(id)
		}
	}
	return len(expired)
}
