package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"sigsummary/internal/config"
	"sigsummary/internal/constants"
	"sigsummary/internal/database"
	"sigsummary/internal/metrics"
	"sigsummary/internal/models"
	"sigsummary/internal/retry"
	"sigsummary/internal/summarizer"
	"sigsummary/internal/transport"
	"sigsummary/pkg/circuitbreaker"
	"sigsummary/pkg/ollama"
	signalapi "sigsummary/pkg/signal"
)

// loadConfig reads the config file and builds a logger configured from it
func loadConfig(opts *rootOptions, out io.Writer) (*models.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{})
	applyLogLevel(logger, cfg.LogLevel, opts.verbose)
	return cfg, logger, nil
}

// applyLogLevel sets the logger level. --verbose always wins.
func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// openStore opens the database with exponential backoff
func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoff := retry.NewBackoff(retry.FromRetryConfig(cfg.Retry, constants.DefaultDatabaseRetryAttempts)).
		OnRetry(func(attempt int, err error, delay time.Duration) {
			logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("Failed to open database, retrying")
		})

	var db *database.Database
	err := backoff.Retry(ctx, func(context.Context) error {
		var openErr error
		db, openErr = database.New(cfg.Database.Path)
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

// recordBreakerState mirrors circuit breaker transitions into the state gauge
func recordBreakerState(logger *logrus.Logger) func(string, circuitbreaker.State, circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		metrics.SetBreakerState(name, int(to))
		logger.WithFields(logrus.Fields{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Circuit breaker state changed")
	}
}

// newTransport builds the signal-cli-rest-api client and the transport over it
func newTransport(cfg *models.Config, logger *logrus.Logger) *transport.Transport {
	httpClient := &http.Client{
		Timeout: signalHTTPTimeout(cfg),
	}
	client := signalapi.NewClientWithLogger(cfg.Signal.RPCURL, cfg.Signal.AuthToken, cfg.Signal.PhoneNumber, httpClient, logger)

	return transport.New(client, cfg.Signal.PhoneNumber, transport.Options{
		AdminCacheTTL:   time.Duration(cfg.Signal.AdminCacheTTLSec) * time.Second,
		SendInterval:    time.Duration(cfg.Signal.SendIntervalMs) * time.Millisecond,
		Retry:           cfg.Retry,
		OnBreakerChange: recordBreakerState(logger),
	}, logger)
}

// signalHTTPTimeout keeps the client timeout above a receive long poll plus
// the collector's deadline slack
func signalHTTPTimeout(cfg *models.Config) time.Duration {
	timeout := time.Duration(cfg.Signal.HTTPTimeoutSec) * time.Second
	attempt := cfg.Collector.AttemptTimeoutSec
	if attempt <= 0 {
		attempt = constants.DefaultCollectionAttemptTimeoutSec
	}
	poll := time.Duration(attempt+constants.ReceiveDeadlineSlackSec) * time.Second
	if timeout < poll {
		return poll
	}
	return timeout
}

// newSummarizer builds the Ollama client and the summarizer over it
func newSummarizer(cfg *models.Config, logger *logrus.Logger) (*summarizer.Summarizer, error) {
	// The summarizer enforces its own deadline; the client timeout only
	// guards against a hung connection.
	httpClient := &http.Client{
		Timeout: time.Duration(cfg.Summarizer.TimeoutSec)*time.Second + 30*time.Second,
	}
	client, err := ollama.NewClient(cfg.Summarizer.Host, httpClient)
	if err != nil {
		return nil, err
	}
	return summarizer.New(client, cfg.Summarizer, logger, recordBreakerState(logger)), nil
}
