package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sigsummary/internal/constants"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler hosts the periodic workers: the retention sweep and the minute
// tick of the schedule trigger
type Scheduler struct {
	sweeper       *Sweeper
	trigger       *Trigger
	sweepInterval time.Duration
	logger        *logrus.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool

	statsMu   sync.Mutex
	lastSweep SweepResult
	lastTick  time.Time
}

func NewScheduler(sweeper *Sweeper, trigger *Trigger, sweepIntervalMinutes int, logger *logrus.Logger) *Scheduler {
	if sweepIntervalMinutes <= 0 {
		sweepIntervalMinutes = constants.DefaultSweepIntervalMinutes
	}
	return &Scheduler{
		sweeper:       sweeper,
		trigger:       trigger,
		sweepInterval: time.Duration(sweepIntervalMinutes) * time.Minute,
		logger:        logger,
	}
}

// Start runs a catch-up sweep and then schedules the workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting scheduler")
	s.runSweep(ctx)

	cl := cronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.sweepInterval), func() { s.runSweep(ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	if _, err := c.AddFunc(constants.TriggerTickSpec, func() { s.tick(ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule trigger: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.WithField("sweep_interval", s.sweepInterval).Info("Scheduler started")
	return nil
}

// Stop waits for running jobs and in-flight summary runs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("Stopping scheduler...")
	<-s.cron.Stop().Done()
	s.cancel()
	s.trigger.Wait()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the workers are scheduled
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastTick returns when the trigger last evaluated schedules
func (s *Scheduler) LastTick() time.Time {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lastTick
}

// LastSweep returns the result of the most recent sweep
func (s *Scheduler) LastSweep() SweepResult {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lastSweep
}

func (s *Scheduler) runSweep(ctx context.Context) {
	result := s.sweeper.Sweep(ctx)
	s.statsMu.Lock()
	s.lastSweep = result
	s.statsMu.Unlock()
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	s.trigger.Evaluate(ctx, now)
	s.statsMu.Lock()
	s.lastTick = now
	s.statsMu.Unlock()
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
