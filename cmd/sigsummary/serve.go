package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sigsummary/internal/config"
	"sigsummary/internal/constants"
	"sigsummary/internal/models"
	"sigsummary/internal/service"
	"sigsummary/internal/tracing"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collector, retention sweeps, scheduled summaries and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

// runServe blocks until ctx is cancelled or the HTTP server fails
func runServe(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, logger, err := loadConfig(opts, out)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
		"dry_run": cfg.DryRun,
	}).Info("Starting sigsummary")
	if opts.verbose {
		logger.Info("Verbose logging enabled - identifiers will be logged unmasked")
	}

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	tr := newTransport(cfg, logger)
	if err := tr.Ping(ctx); err != nil {
		logger.Warnf("Signal REST API not reachable yet: %v. Collection will keep retrying.", err)
	}
	sum, err := newSummarizer(cfg, logger)
	if err != nil {
		return err
	}
	if err := sum.Ping(ctx); err != nil {
		logger.Warnf("Summarizer backend not reachable: %v. Summaries will fail until it is.", err)
	}

	engine := service.NewEngine(cfg, db, tr, sum, tr.Ping, logger)

	ctx = context.WithValue(ctx, service.VerboseContextKey, opts.verbose)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Stop()

	watcher := config.NewConfigWatcher(opts.configPath, logger)
	watcher.OnConfigChange(hotReload(logger, engine, opts.verbose))
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg.Server, engine, db, map[string]HealthCheck{
		"database": db.Ping,
		"signal":   tr.Ping,
	}, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// hotReload applies the settings that can change without a restart
func hotReload(logger *logrus.Logger, engine *service.Engine, verbose bool) func(*models.Config) {
	return func(cfg *models.Config) {
		applyLogLevel(logger, cfg.LogLevel, verbose)
		engine.Resolver.SetDefaultHours(cfg.Retention.DefaultHours)
	}
}
