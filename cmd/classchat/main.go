package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"classchat/internal/app"
	"classchat/internal/config"
	"classchat/internal/logging"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger := logging.L()
		logger.Error().Err(err).Msg("classchat exited")
		stop()
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Cancelling ctx starts the graceful shutdown
func run(ctx context.Context) error {
	// STEP 1: Load configuration with precedence (env > file > defaults)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.Log)

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Serve until a signal arrives
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}
