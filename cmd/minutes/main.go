package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/eponine0805/voice-app/internal/config"
)

const (
	serviceName    = "voice-app"
	serviceVersion = "1.0.0"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string  `short:"c" env:"MINUTES_CONFIG" type:"path" help:"Path to configuration file (defaults are used when empty)"`
	LogLevel *string `env:"MINUTES_LOG_LEVEL" enum:"debug,info,warn,error" help:"Override the configured log level [${enum}]"`
}

var cli struct {
	Globals `embed:""`

	Serve      ServeCmd      `cmd:"" help:"Run the HTTP API service" default:"withargs"`
	Record     RecordCmd     `cmd:"" help:"Record a meeting from the configured capture source"`
	Transcribe TranscribeCmd `cmd:"" help:"Transcribe a recorded meeting file"`
	Summarize  SummarizeCmd  `cmd:"" help:"Generate minutes from a transcript text file"`
}

func main() {
	envFiles := []string{".env", "minutes.env"}
	if home, err := os.UserHomeDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(home, ".config", "minutes.env"))
	}
	if err := config.LoadEnv(envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment files: %v\n", err)
	}

	ctx := kong.Parse(&cli,
		kong.Name("minutes"),
		kong.Description("Records or imports meeting audio, transcribes it chunk by chunk and writes minutes.\n\nVersion: "+serviceVersion),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
