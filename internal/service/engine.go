package service

import (
	"context"
	"fmt"
	"time"

	"sigsummary/internal/models"

	"github.com/sirupsen/logrus"
)

// Engine wires the components that share the group locks and the ledger
type Engine struct {
	Locks      *GroupLocks
	Ledger     *Ledger
	Resolver   *RetentionResolver
	Sweeper    *Sweeper
	Dispatcher *Dispatcher
	Collector  *Collector
	Trigger    *Trigger
	Scheduler  *Scheduler
	Poller     *SignalPoller

	startedAt time.Time
}

// NewEngine builds every component from cfg. ping is checked before the
// collection loop starts and may be nil.
func NewEngine(cfg *models.Config, store Store, transport Transport, summarizer Summarizer, ping func(context.Context) error, logger *logrus.Logger) *Engine {
	locks := NewGroupLocks()
	ledger := NewLedger(cfg.Collector.LedgerSize)
	resolver := NewRetentionResolver(store, store, cfg.Retention.DefaultHours)
	sweeper := NewSweeper(store, resolver, locks, cfg.Retention.SummaryRunHours, logger)
	dispatcher := NewDispatcher(store, transport, summarizer, resolver, sweeper, locks, cfg.Summarizer.MinMessages, logger)
	collector := NewCollector(transport, store, ledger, dispatcher, locks, logger)
	collector.SetAcceptInvites(cfg.Signal.AcceptsInvites())
	trigger := NewTrigger(store, transport, summarizer, TriggerOptions{
		MisfireGrace: time.Duration(cfg.Scheduler.MisfireGraceMinutes) * time.Minute,
		RunTimeout:   time.Duration(cfg.Summarizer.TimeoutSec) * time.Second,
		DryRun:       cfg.DryRun,
	}, logger)

	return &Engine{
		Locks:      locks,
		Ledger:     ledger,
		Resolver:   resolver,
		Sweeper:    sweeper,
		Dispatcher: dispatcher,
		Collector:  collector,
		Trigger:    trigger,
		Scheduler:  NewScheduler(sweeper, trigger, cfg.Retention.SweepIntervalMinutes, logger),
		Poller:     NewSignalPoller(collector, cfg.Collector, ping, logger),
	}
}

// Start launches the periodic workers and the collection loop
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := e.Poller.Start(ctx); err != nil {
		e.Scheduler.Stop()
		return fmt.Errorf("failed to start poller: %w", err)
	}
	e.startedAt = time.Now()
	return nil
}

// Stop halts collection first, then the scheduled workers
func (e *Engine) Stop() {
	e.Poller.Stop()
	e.Scheduler.Stop()
}

// EngineStatus is the worker state reported by the status endpoint
type EngineStatus struct {
	StartedAt      time.Time               `json:"started_at"`
	PollerRunning  bool                    `json:"poller_running"`
	LastCollection *CollectionResult       `json:"last_collection,omitempty"`
	LastPoll       *time.Time              `json:"last_poll,omitempty"`
	SchedulerUp    bool                    `json:"scheduler_running"`
	LastSweep      SweepResult             `json:"last_sweep"`
	LastTick       *time.Time              `json:"last_tick,omitempty"`
	Schedules      map[int64]ScheduleState `json:"schedules"`
	LedgerSize     int                     `json:"ledger_size"`
	DefaultHours   int                     `json:"default_retention_hours"`
}

func (e *Engine) Status() EngineStatus {
	st := EngineStatus{
		StartedAt:     e.startedAt,
		PollerRunning: e.Poller.IsRunning(),
		SchedulerUp:   e.Scheduler.IsRunning(),
		LastSweep:     e.Scheduler.LastSweep(),
		Schedules:     e.Trigger.States(),
		LedgerSize:    e.Ledger.Len(),
		DefaultHours:  e.Resolver.DefaultHours(),
	}
	if result, at := e.Poller.LastResult(); !at.IsZero() {
		st.LastCollection = &result
		st.LastPoll = &at
	}
	if tick := e.Scheduler.LastTick(); !tick.IsZero() {
		st.LastTick = &tick
	}
	return st
}
