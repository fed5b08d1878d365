package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sigsummary/internal/constants"
	"sigsummary/internal/models"
)

// ConfigWatcher polls the configuration file and reloads it on change.
// Only settings that are safe to change at runtime are acted on by the
// registered callbacks; everything else needs a restart.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   time.Duration(constants.DefaultConfigWatchInterval) * time.Second,
		logger:     logger,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// WithInterval overrides the polling interval
func (cw *ConfigWatcher) WithInterval(d time.Duration) *ConfigWatcher {
	if d > 0 {
		cw.interval = d
	}
	return cw
}

// Start loads the configuration and then blocks, polling for changes until
// ctx is cancelled.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	cw.logger.WithFields(logrus.Fields{
		"path":     cw.configPath,
		"interval": cw.interval.String(),
	}).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				cw.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()

				// let the writer finish
				time.Sleep(100 * time.Millisecond)
				cw.reloadConfig()
			}
		}
	}
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// reloadConfig reloads the configuration from file. A file that fails to
// load or validate leaves the previous configuration in place.
func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(newConfig)
		}(callback)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

// logConfigChanges logs notable configuration changes
func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.Retention.DefaultHours != new.Retention.DefaultHours {
		cw.logger.WithFields(logrus.Fields{
			"old": old.Retention.DefaultHours,
			"new": new.Retention.DefaultHours,
		}).Info("Default retention changed")
	}

	if old.DryRun != new.DryRun {
		cw.logger.WithFields(logrus.Fields{
			"old": old.DryRun,
			"new": new.DryRun,
		}).Info("Dry-run mode changed")
	}

	if old.Signal.RPCURL != new.Signal.RPCURL || old.Database.Path != new.Database.Path || old.Server.Port != new.Server.Port {
		cw.logger.Warn("Transport, database or server settings changed; restart to apply")
	}
}
