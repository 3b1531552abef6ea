package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eponine0805/voice-app/internal/config"
	"github.com/eponine0805/voice-app/internal/source"
	"github.com/eponine0805/voice-app/internal/transcript"
	"github.com/eponine0805/voice-app/internal/transcription"
)

func testApp(mutate func(*config.Config)) *app {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return &app{cfg: cfg, logger: initLogger(config.LoggingConfig{Level: "error"})}
}

func TestOpenerSelection(t *testing.T) {
	if o := testApp(func(c *config.Config) { c.Capture.Source = config.SourceNone }).opener(); o != nil {
		t.Errorf("disabled capture should have no opener, got %T", o)
	}

	// Unity gain returns the opener itself.
	o := testApp(func(c *config.Config) { c.Capture.Gain = 1 }).opener()
	if _, ok := o.(*source.CommandOpener); !ok {
		t.Errorf("command source opener = %T", o)
	}
	o = testApp(func(c *config.Config) {
		c.Capture.Source = config.SourceNetwork
		c.Capture.Gain = 1
	}).opener()
	if n, ok := o.(*source.NetworkOpener); !ok || n.Address != "0.0.0.0:4444" {
		t.Errorf("network source opener = %#v", o)
	}

	if o := testApp(nil).opener(); o == nil {
		t.Error("default gain should still yield an opener")
	}
}

func TestFormatTranscript(t *testing.T) {
	tr := transcript.Transcript{Entries: []transcription.ChunkResult{
		{Index: 0, End: 15 * time.Second, Text: "おはようございます"},
		{Index: 1, Start: 15 * time.Second, End: 30 * time.Second, Failure: &transcription.Failure{Category: transcription.FailureTransport}},
	}}

	if got := formatTranscript(tr, "[エラー]", true); got != "おはようございます [エラー]\n" {
		t.Errorf("plain = %q", got)
	}
	want := "[00:00-00:15] おはようございます\n[00:15-00:30] [エラー]\n"
	if got := formatTranscript(tr, "[エラー]", false); got != want {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestWriteOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minutes.txt")
	if err := writeOutput(path, "## 決定事項\n"); err != nil {
		t.Fatalf("writeOutput failed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "## 決定事項\n" {
		t.Errorf("file = %q, %v", b, err)
	}
}

func TestSetupAppliesLogLevel(t *testing.T) {
	level := "debug"
	a, err := setup(&Globals{LogLevel: &level})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if a.cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", a.cfg.Logging.Level)
	}
	if secondsToDuration(1.5) != 1500*time.Millisecond {
		t.Error("secondsToDuration(1.5)")
	}
}
