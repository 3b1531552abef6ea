package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// SummarizeCmd turns an existing transcript text file into minutes.
type SummarizeCmd struct {
	File string `arg:"" type:"existingfile" help:"Transcript text file"`
	Out  string `short:"o" type:"path" help:"Write the minutes to this file instead of stdout"`
}

func (s *SummarizeCmd) Run(g *Globals) error {
	a, err := setup(g)
	if err != nil {
		return err
	}

	text, err := os.ReadFile(s.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.File, err)
	}

	sum, err := a.summarizer()
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	minutes, err := sum.Summarize(ctx, string(text))
	if err != nil {
		return err
	}
	return writeOutput(s.Out, minutes+"\n")
}
