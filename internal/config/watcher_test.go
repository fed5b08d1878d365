package config

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigsummary/internal/models"
)

// syncBuffer is a log sink that is safe to read while callbacks still write.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newWatcherLogger() (*logrus.Logger, *syncBuffer) {
	out := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.DebugLevel)
	return logger, out
}

func TestNewConfigWatcher(t *testing.T) {
	logger := logrus.New()
	watcher := NewConfigWatcher("/etc/sigsummary/config.json", logger)

	assert.Equal(t, "/etc/sigsummary/config.json", watcher.configPath)
	assert.Equal(t, 5*time.Second, watcher.interval)
	assert.Empty(t, watcher.callbacks)
	assert.Nil(t, watcher.GetConfig())

	watcher.WithInterval(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, watcher.interval)
	watcher.WithInterval(0)
	assert.Equal(t, 50*time.Millisecond, watcher.interval)
}

func TestConfigWatcher_Start_InvalidPath(t *testing.T) {
	isolateEnv(t)
	logger, _ := newWatcherLogger()
	watcher := NewConfigWatcher("/nonexistent/config.json", logger)

	err := watcher.Start(context.Background())
	assert.Error(t, err)
}

func TestConfigWatcher_StartLoadsAndStops(t *testing.T) {
	isolateEnv(t)
	logger, out := newWatcherLogger()
	path := writeConfig(t, "config.json", validJSONConfig)
	watcher := NewConfigWatcher(path, logger).WithInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Start(ctx) }()

	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 24, watcher.GetConfig().Retention.DefaultHours)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Contains(t, out.String(), "Configuration watcher stopping")
}

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	isolateEnv(t)
	logger, out := newWatcherLogger()
	path := writeConfig(t, "config.json", validJSONConfig)
	watcher := NewConfigWatcher(path, logger).WithInterval(20 * time.Millisecond)

	changes := make(chan *models.Config, 1)
	watcher.OnConfigChange(func(cfg *models.Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Start(ctx) }()
	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	updated := strings.Replace(validJSONConfig, `"default_hours": 24`, `"default_hours": 96`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case cfg := <-changes:
		assert.Equal(t, 96, cfg.Retention.DefaultHours)
	case <-time.After(2 * time.Second):
		t.Fatal("change callback not invoked")
	}
	assert.Equal(t, 96, watcher.GetConfig().Retention.DefaultHours)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Default retention changed")
	}, time.Second, 10*time.Millisecond)
}

func TestConfigWatcher_ReloadKeepsPreviousOnInvalidFile(t *testing.T) {
	isolateEnv(t)
	logger, out := newWatcherLogger()
	path := writeConfig(t, "config.json", validJSONConfig)
	watcher := NewConfigWatcher(path, logger)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	watcher.config = cfg

	called := make(chan struct{}, 1)
	watcher.OnConfigChange(func(*models.Config) { called <- struct{}{} })

	require.NoError(t, os.WriteFile(path, []byte(`{"signal": {}}`), 0600))
	watcher.reloadConfig()

	assert.Same(t, cfg, watcher.GetConfig())
	assert.Contains(t, out.String(), "Failed to reload configuration")
	select {
	case <-called:
		t.Fatal("callback must not run for an invalid file")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConfigWatcher_CallbackPanic(t *testing.T) {
	isolateEnv(t)
	logger, out := newWatcherLogger()
	path := writeConfig(t, "config.json", validJSONConfig)
	watcher := NewConfigWatcher(path, logger)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	watcher.config = cfg

	watcher.OnConfigChange(func(*models.Config) { panic("boom") })
	watcher.reloadConfig()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Config change callback panicked")
	}, time.Second, 10*time.Millisecond)
}

func TestConfigWatcher_LogConfigChanges(t *testing.T) {
	logger, out := newWatcherLogger()
	watcher := NewConfigWatcher("config.json", logger)

	oldConfig := &models.Config{
		LogLevel:  "info",
		Retention: models.RetentionConfig{DefaultHours: 48},
		Server:    models.ServerConfig{Port: 8082},
	}
	newConfig := &models.Config{
		LogLevel:  "debug",
		Retention: models.RetentionConfig{DefaultHours: 12},
		Server:    models.ServerConfig{Port: 9090},
		DryRun:    true,
	}

	watcher.logConfigChanges(oldConfig, newConfig)

	logs := out.String()
	assert.Contains(t, logs, "Log level changed")
	assert.Contains(t, logs, "Default retention changed")
	assert.Contains(t, logs, "Dry-run mode changed")
	assert.Contains(t, logs, "restart to apply")
}

func TestConfigWatcher_LogConfigChanges_NilOldConfig(t *testing.T) {
	logger, out := newWatcherLogger()
	watcher := NewConfigWatcher("config.json", logger)

	watcher.logConfigChanges(nil, &models.Config{LogLevel: "debug"})
	assert.Empty(t, out.String())
}
