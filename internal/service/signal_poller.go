package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sigsummary/internal/constants"
	"sigsummary/internal/models"

	"github.com/sirupsen/logrus"
)

// SignalPoller runs the collector on a fixed interval
type SignalPoller struct {
	collector *Collector
	config    models.CollectorConfig
	ping      func(ctx context.Context) error
	logger    *logrus.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	mu        sync.RWMutex

	statsMu    sync.Mutex
	lastResult CollectionResult
	lastPoll   time.Time
}

// NewSignalPoller creates the collection loop. ping, when set, is checked
// once before polling starts.
func NewSignalPoller(collector *Collector, config models.CollectorConfig, ping func(ctx context.Context) error, logger *logrus.Logger) *SignalPoller {
	if config.PollIntervalSec <= 0 {
		config.PollIntervalSec = constants.DefaultCollectorPollIntervalSec
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = constants.DefaultCollectionAttempts
	}
	if config.AttemptTimeoutSec <= 0 {
		config.AttemptTimeoutSec = constants.DefaultCollectionAttemptTimeoutSec
	}
	return &SignalPoller{
		collector: collector,
		config:    config,
		ping:      ping,
		logger:    logger,
	}
}

// Start begins the background polling process
func (sp *SignalPoller) Start(ctx context.Context) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.running {
		return fmt.Errorf("signal poller is already running")
	}

	if !sp.config.IsEnabled() {
		sp.logger.Info("Signal polling is disabled in configuration")
		return nil
	}

	if sp.ping != nil {
		if err := sp.ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to Signal CLI before starting poller: %w", err)
		}
	}

	sp.ctx, sp.cancel = context.WithCancel(ctx)
	sp.running = true

	sp.wg.Add(1)
	go sp.pollLoop()

	sp.logger.WithFields(logrus.Fields{
		"interval": sp.config.PollIntervalSec,
		"attempts": sp.config.MaxAttempts,
	}).Info("Signal poller started successfully")

	return nil
}

// Stop gracefully stops the polling process
func (sp *SignalPoller) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if !sp.running {
		return
	}

	sp.logger.Info("Stopping Signal poller...")
	sp.cancel()
	sp.wg.Wait()
	sp.running = false
	sp.logger.Info("Signal poller stopped")
}

// IsRunning returns whether the poller is currently active
func (sp *SignalPoller) IsRunning() bool {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.running
}

// LastResult returns the most recent collection result and when it ran
func (sp *SignalPoller) LastResult() (CollectionResult, time.Time) {
	sp.statsMu.Lock()
	defer sp.statsMu.Unlock()
	return sp.lastResult, sp.lastPoll
}

func (sp *SignalPoller) pollLoop() {
	defer sp.wg.Done()

	ticker := time.NewTicker(time.Duration(sp.config.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	sp.poll()
	for {
		select {
		case <-sp.ctx.Done():
			return
		case <-ticker.C:
			sp.poll()
		}
	}
}

// PollOnce runs a single collection cycle with the configured limits
func (sp *SignalPoller) PollOnce(ctx context.Context) CollectionResult {
	result := sp.collector.Collect(ctx, sp.config.MaxAttempts, time.Duration(sp.config.AttemptTimeoutSec)*time.Second)
	sp.statsMu.Lock()
	sp.lastResult = result
	sp.lastPoll = time.Now()
	sp.statsMu.Unlock()
	return result
}

func (sp *SignalPoller) poll() {
	sp.PollOnce(sp.ctx)
}
