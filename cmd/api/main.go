package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/melih/lighthouse-stack/internal/cli"
	"github.com/melih/lighthouse-stack/internal/config"
	"github.com/melih/lighthouse-stack/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Settings (flags are left to stackctl, LHS_* and the config file apply)
	v := config.NewViper()
	settings, err := config.LoadSettings(v)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if err := config.LoadEnvFile(settings.EnvFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	// 2. Logger
	logger := logging.New(os.Stderr, settings.LogLevel)
	ctx = logging.WithLogger(ctx, logger)

	// 3. Control plane and watchdog
	if err := cli.Serve(ctx, v, settings); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
