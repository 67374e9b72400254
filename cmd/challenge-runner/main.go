package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"challenge-runner/internal/cli"
	"challenge-runner/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.Run(ctx, os.Args[1:])
	if err == nil {
		return
	}
	if errors.Is(err, runner.ErrInterrupted) {
		// Conventional exit status for a SIGINT-terminated process; scripts
		// driving batches distinguish it from real failures.
		os.Exit(130)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
