package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/eponine0805/voice-app/internal/transcription"
)

// DefaultPlaceholder marks failed chunks in rendered transcripts.
const DefaultPlaceholder = "[エラー]"

// Transcript is the finalized, gap-free sequence of chunk results. Entry i
// is the result for chunk i.
type Transcript struct {
	Entries []transcription.ChunkResult `json:"entries"`
}

// Len returns the number of entries.
func (t Transcript) Len() int { return len(t.Entries) }

// Text joins successful chunk texts with a single space. Failed chunks
// contribute nothing. This is the input handed to summarization.
func (t Transcript) Text() string { return joinTexts(t.Entries) }

// Render is Text with failed chunks shown as placeholder.
func (t Transcript) Render(placeholder string) string {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	var b strings.Builder
	for _, e := range t.Entries {
		text := e.Text
		if !e.OK() {
			text = placeholder
		}
		appendText(&b, text)
	}
	return b.String()
}

// Lines renders one "[mm:ss-mm:ss] text" line per entry, placeholders
// included.
func (t Transcript) Lines(placeholder string) []string {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	lines := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		text := strings.TrimSpace(e.Text)
		if !e.OK() {
			text = placeholder
		}
		lines[i] = fmt.Sprintf("[%s-%s] %s", Clock(e.Start), Clock(e.End), text)
	}
	return lines
}

// Failed returns the indices of placeholder entries.
func (t Transcript) Failed() []int {
	var out []int
	for _, e := range t.Entries {
		if !e.OK() {
			out = append(out, e.Index)
		}
	}
	return out
}

// Clock formats d as mm:ss, or h:mm:ss past an hour.
func Clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
