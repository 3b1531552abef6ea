// Command fakeasr serves stand-in transcription and summarization
// endpoints for local development.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

var cli struct {
	Addr      string        `default:":9000" help:"Listen address"`
	Text      string        `default:"これはテスト用の文字起こしです" help:"Text returned for every chunk"`
	Delay     time.Duration `default:"200ms" help:"Simulated processing time per chunk"`
	FailEvery int           `help:"Answer every Nth transcription request with HTTP 500 (0 disables)"`
}

func main() {
	kong.Parse(&cli, kong.Description("Stand-in transcription and summarization endpoints."))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	asr := &fakeASR{text: cli.Text, delay: cli.Delay, failEvery: cli.FailEvery, logger: logger}

	logger.Info("Fake transcription server starting",
		slog.String("address", cli.Addr),
		slog.String("transcribe", "http://localhost"+cli.Addr+"/transcribe"),
		slog.String("summarize", "http://localhost"+cli.Addr+"/summarize"),
	)
	if err := http.ListenAndServe(cli.Addr, newMux(asr, logger)); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
