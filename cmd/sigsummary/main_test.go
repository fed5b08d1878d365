package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigsummary/internal/constants"
	"sigsummary/internal/models"
)

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sigsummary dev")
	assert.Contains(t, out, "Git Commit: unknown")
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origBuild, origCommit := Version, BuildTime, GitCommit
	Version, BuildTime, GitCommit = "1.2.0", "2026-05-01", "abc123"
	defer func() { Version, BuildTime, GitCommit = origVersion, origBuild, origCommit }()

	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sigsummary 1.2.0")
	assert.Contains(t, out, "Build Time: 2026-05-01")
	assert.Contains(t, out, "Git Commit: abc123")
}

func TestSignalHTTPTimeout(t *testing.T) {
	tests := []struct {
		name        string
		httpTimeout int
		attempt     int
		want        time.Duration
	}{
		{"configured timeout already covers the poll", 60, 30, 60 * time.Second},
		{"raised above attempt plus slack", 5, 30, (30 + constants.ReceiveDeadlineSlackSec) * time.Second},
		{"default attempt timeout", 0, 0, (constants.DefaultCollectionAttemptTimeoutSec + constants.ReceiveDeadlineSlackSec) * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &models.Config{}
			cfg.Signal.HTTPTimeoutSec = tt.httpTimeout
			cfg.Collector.AttemptTimeoutSec = tt.attempt
			assert.Equal(t, tt.want, signalHTTPTimeout(cfg))
		})
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "purge", "migrate", "schedule", "version"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--verbose")
}

func TestExecute_ConfigLoadError(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(nopWriter))
	cmd.SetErr(new(nopWriter))
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.json"), "migrate"})

	assert.Equal(t, 1, execute(context.Background(), cmd))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestApplyLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose bool
		want    logrus.Level
	}{
		{"empty defaults to info", "", false, logrus.InfoLevel},
		{"configured warn", "warn", false, logrus.WarnLevel},
		{"configured debug", "debug", false, logrus.DebugLevel},
		{"invalid falls back to info", "loud", false, logrus.InfoLevel},
		{"verbose overrides config", "error", true, logrus.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetOutput(nopWriter{})
			applyLogLevel(logger, tt.level, tt.verbose)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServe_StartsAndShutsDown(t *testing.T) {
	backends := newFakeBackends(t)
	path := writeTestConfig(t, backends)
	port := freePort(t)
	t.Setenv(constants.EnvPrefix+"PORT", fmt.Sprint(port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := runCLIContext(ctx, t, "--config", path, "serve")
		done <- err
	}()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/status", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
