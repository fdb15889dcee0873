// Harrier - Transaction risk detection with a verifiable audit trail.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Package main provides the entry point for the harrier CLI application.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:     "harrier",
		Short:   "Transaction risk detection engine with a hash-chained audit trail",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")

	rootCmd.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newRunRulesCmd(),
		newBuildNetworkCmd(),
		newVerifyChainCmd(),
		newReproduceCmd(),
		newSummaryCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}

// setupLogger installs the process-wide structured logger.
func setupLogger(cfg *domain.Config) {
	level := slog.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
