package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/network"
	"github.com/opensource-finance/harrier/internal/report"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	d, err := buildDependencies()
	if err != nil {
		return err
	}
	defer d.repo.Close()

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", d.cfg.Repository.Driver,
		"cache", d.cfg.Cache.Type,
		"eventbus", d.cfg.EventBus.Type,
		"config_hash", d.configHash,
	)

	cacheImpl, err := cache.New(d.cfg.Cache)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(d.cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initializing event bus: %w", err)
	}
	defer busImpl.Close()

	orchestrator, err := engine.New(d.repo, d.chain, busImpl, d.cfg, d.configHash, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	builder := network.NewBuilder(d.repo, d.chain, slog.Default())
	reporter := report.NewReporter(d.repo, d.chain, slog.Default())

	srv := api.NewServer(d.cfg.Server, d.repo, d.chain, cacheImpl, orchestrator, builder, reporter, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", d.cfg.Server.Host,
		"port", d.cfg.Server.Port,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("harrier shutdown complete")
	return nil
}
