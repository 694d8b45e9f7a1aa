package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"KidneyAllocation/internal/app"
	"KidneyAllocation/internal/config"
	"KidneyAllocation/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		application.Close()
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
