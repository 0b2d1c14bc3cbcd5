package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/universal/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger, ConfigPath: "config.toml"})

	err := runner.app().Run(ctx, os.Args)
	if err != nil {
		logger.Error(err.Error(), "kind", shared.Classify(err))
	}
	stop()
	os.Exit(exitCode(err))
}
