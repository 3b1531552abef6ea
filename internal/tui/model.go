package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eponine0805/voice-app/internal/session"
	"github.com/eponine0805/voice-app/internal/transcript"
)

// Session is the part of a session controller the view drives.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	Stop() error
	Abort()
}

// SnapshotMsg carries a published session snapshot.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// UpdatesClosedMsg is sent once the session stops publishing.
type UpdatesClosedMsg struct{}

// StopResultMsg reports the outcome of a stop request.
type StopResultMsg struct {
	Err error
}

// Model renders a live session until it reaches a terminal state.
type Model struct {
	session Session
	updates <-chan session.Snapshot

	snapshot session.Snapshot
	stopping bool
	aborted  bool
	done     bool
	errorMsg string

	width int
}

// New creates a model for s, consuming snapshots from updates.
func New(s Session, updates <-chan session.Snapshot) Model {
	return Model{
		session:  s,
		updates:  updates,
		snapshot: s.Snapshot(),
	}
}

// Init starts listening for snapshots.
func (m Model) Init() tea.Cmd {
	return waitSnapshotCmd(m.updates)
}

func waitSnapshotCmd(updates <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return UpdatesClosedMsg{}
		}
		return SnapshotMsg{Snapshot: s}
	}
}

func stopCmd(s Session) tea.Cmd {
	return func() tea.Msg {
		return StopResultMsg{Err: s.Stop()}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case SnapshotMsg:
		m.snapshot = msg.Snapshot
		if m.snapshot.State.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, waitSnapshotCmd(m.updates)

	case UpdatesClosedMsg:
		m.snapshot = m.session.Snapshot()
		m.done = true
		return m, tea.Quit

	case StopResultMsg:
		if msg.Err != nil {
			m.errorMsg = msg.Err.Error()
			m.stopping = false
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "s", "ctrl+c":
		if m.done {
			return m, tea.Quit
		}
		if m.stopping && msg.String() == "ctrl+c" {
			// Second interrupt abandons pending chunks.
			m.aborted = true
			m.session.Abort()
			return m, nil
		}
		if !m.stopping {
			m.stopping = true
			return m, stopCmd(m.session)
		}
	}
	return m, nil
}

// Snapshot returns the last snapshot the model has seen.
func (m Model) Snapshot() session.Snapshot { return m.snapshot }

// View renders the session status.
func (m Model) View() string {
	s := m.snapshot
	var b strings.Builder

	b.WriteString(titleStyle.Render("Meeting Minutes"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(s.ID))
	b.WriteString("\n\n")

	b.WriteString(stateBadge(s.State))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(fmt.Sprintf("audio %s  chunks %d/%d  failed %d",
		transcript.Clock(s.Captured), s.ChunksCompleted, s.ChunksEmitted, s.ChunksFailed)))
	b.WriteString("\n")

	if c := s.Capture; c != nil && c.Network != nil {
		r := c.Network.Reorder
		b.WriteString(statusStyle.Render(fmt.Sprintf("packets %d  lost %d (%.1f%%)", r.TotalPackets, r.LostPackets, r.LossRate)))
		b.WriteString("\n")
	}

	if pending := s.Pending(); pending > 0 && s.State == session.StateDraining {
		b.WriteString(statusStyle.Render(fmt.Sprintf("waiting for %d chunk(s)...", pending)))
		b.WriteString("\n")
	}

	if s.Partial != "" {
		b.WriteString("\n")
		text := s.Partial
		if m.width > 0 {
			text = lipgloss.NewStyle().Width(m.width).Render(text)
		}
		b.WriteString(partialStyle.Render(text))
		b.WriteString("\n")
	}

	if s.Error != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("error: " + s.Error))
		b.WriteString("\n")
	}
	if m.errorMsg != "" {
		b.WriteString(errorStyle.Render(m.errorMsg))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	b.WriteString("\n")
	return b.String()
}

func (m Model) footer() string {
	switch {
	case m.done:
		return footerDescStyle.Render("done")
	case m.aborted:
		return footerDescStyle.Render("aborting...")
	case m.stopping:
		return footerKeyStyle.Render("ctrl+c") + " " + footerDescStyle.Render("abort")
	default:
		return footerKeyStyle.Render("q") + " " + footerDescStyle.Render("stop recording")
	}
}

func stateBadge(st session.State) string {
	switch st {
	case session.StateCapturing:
		return recordingStyle.Render("● REC")
	case session.StateDraining:
		return drainingStyle.Render("◐ DRAINING")
	case session.StateFinalized:
		return finalizedStyle.Render("✓ FINALIZED")
	case session.StateFailed:
		return errorStyle.Render("✗ FAILED")
	default:
		return statusStyle.Render("○ " + strings.ToUpper(string(st)))
	}
}

// Run shows s until it finishes or ctx is canceled, and returns the final
// snapshot.
func Run(ctx context.Context, s Session) (session.Snapshot, error) {
	updates, cancel := s.Subscribe()
	defer cancel()

	p := tea.NewProgram(New(s, updates), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return s.Snapshot(), err
	}
	if fm, ok := final.(Model); ok {
		return fm.Snapshot(), nil
	}
	return s.Snapshot(), nil
}
