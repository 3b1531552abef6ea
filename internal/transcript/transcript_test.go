package transcript

import (
	"reflect"
	"testing"
	"time"

	"github.com/eponine0805/voice-app/internal/transcription"
)

func TestTranscriptSkipsEmptyTexts(t *testing.T) {
	tr := Transcript{Entries: []transcription.ChunkResult{ok(0, "one"), ok(1, ""), ok(2, "three")}}
	if got := tr.Text(); got != "one three" {
		t.Errorf("Expected single space between texts, got %q", got)
	}
}

func TestTranscriptTrimsChunkWhitespace(t *testing.T) {
	tr := Transcript{Entries: []transcription.ChunkResult{ok(0, " hello "), ok(1, "  "), failed(2), ok(3, " world\n")}}

	if got := tr.Text(); got != "hello world" {
		t.Errorf("Text() = %q, want %q", got, "hello world")
	}
	if got := tr.Render("[エラー]"); got != "hello [エラー] world" {
		t.Errorf("Render() = %q", got)
	}
	if got := tr.Lines("[エラー]")[0]; got != "[00:00-00:15] hello" {
		t.Errorf("Lines()[0] = %q", got)
	}

	a := NewAggregator()
	expectN(t, a, 2)
	a.Append(ok(0, " hello "))
	a.Append(ok(1, " world"))
	if got := a.Partial(); got != "hello world" {
		t.Errorf("Partial() = %q", got)
	}
}

func TestTranscriptLines(t *testing.T) {
	tr := Transcript{Entries: []transcription.ChunkResult{ok(0, "開始します"), failed(1), ok(2, "")}}

	want := []string{
		"[00:00-00:15] 開始します",
		"[00:15-00:30] [欠落]",
		"[00:30-00:45] ",
	}
	if got := tr.Lines("[欠落]"); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
}

func TestClock(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{40 * time.Second, "00:40"},
		{6*time.Minute + 40*time.Second, "06:40"},
		{1500 * time.Millisecond, "00:02"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := Clock(tt.in); got != tt.want {
			t.Errorf("Clock(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
