package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sigsummary/internal/constants"
	"sigsummary/internal/database"
	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/metrics"
	"sigsummary/internal/models"
	"sigsummary/internal/tracing"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ScheduleState is where a schedule sits in the trigger's lifecycle
type ScheduleState string

const (
	StateIdle        ScheduleState = "idle"
	StateDue         ScheduleState = "due"
	StateRunning     ScheduleState = "running"
	StateCoolingDown ScheduleState = "cooling-down"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SlotSpecs returns one cron expression per configured time of s, pinned to
// the schedule's timezone
func SlotSpecs(s models.Schedule) ([]string, error) {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	dow := "*"
	if s.ScheduleType == models.ScheduleTypeWeekly {
		if s.DayOfWeek == nil || *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return nil, fmt.Errorf("weekly schedule needs day_of_week 0-6")
		}
		// 0=Monday here, 0=Sunday in cron
		dow = strconv.Itoa((*s.DayOfWeek + 1) % 7)
	}

	specs := make([]string, 0, len(s.Times))
	for _, hhmm := range s.Times {
		h, m, err := parseClock(hhmm)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fmt.Sprintf("CRON_TZ=%s %d %d * * %s", tz, m, h, dow))
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("schedule has no times")
	}
	return specs, nil
}

func parseClock(hhmm string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h, m, nil
}

// LatestSlot returns the most recent slot of s at or before now. ok is false
// when no slot falls inside the lookback window.
func LatestSlot(s models.Schedule, now time.Time) (slot time.Time, ok bool, err error) {
	specs, err := SlotSpecs(s)
	if err != nil {
		return time.Time{}, false, err
	}
	lookback := 25 * time.Hour
	if s.ScheduleType == models.ScheduleTypeWeekly {
		lookback = 8 * 24 * time.Hour
	}

	for _, spec := range specs {
		sched, err := cronParser.Parse(spec)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("failed to parse %q: %w", spec, err)
		}
		for next := sched.Next(now.Add(-lookback)); !next.After(now); next = sched.Next(next) {
			if next.After(slot) {
				slot, ok = next, true
			}
		}
	}
	return slot, ok, nil
}

// IsDue reports whether s should fire at now: its latest slot is newer than
// both its last run and its creation, and no older than grace
func IsDue(s models.Schedule, now time.Time, grace time.Duration) (time.Time, bool, error) {
	slot, ok, err := LatestSlot(s, now)
	if err != nil || !ok {
		return slot, false, err
	}
	if now.Sub(slot) > grace {
		return slot, false, nil
	}
	if !slot.After(s.CreatedAt) {
		return slot, false, nil
	}
	if s.LastRun != nil && !slot.After(*s.LastRun) {
		return slot, false, nil
	}
	return slot, true, nil
}

// TriggerOptions tunes the schedule trigger
type TriggerOptions struct {
	MisfireGrace time.Duration
	RunTimeout   time.Duration
	// DryRun forces every run to skip sending
	DryRun bool
}

// Trigger fires schedules when due and records each run
type Trigger struct {
	store      Store
	transport  Transport
	summarizer Summarizer
	opts       TriggerOptions
	logger     *logrus.Logger
	errLog     *apperrors.Logger
	now        func() time.Time

	mu     sync.Mutex
	states map[int64]ScheduleState
	wg     sync.WaitGroup
}

func NewTrigger(store Store, transport Transport, summarizer Summarizer, opts TriggerOptions, logger *logrus.Logger) *Trigger {
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = time.Duration(constants.DefaultMisfireGraceMinutes) * time.Minute
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = time.Duration(constants.DefaultSummaryTimeoutSec) * time.Second
	}
	return &Trigger{
		store:      store,
		transport:  transport,
		summarizer: summarizer,
		opts:       opts,
		logger:     logger,
		errLog:     apperrors.FromLogrus(logger),
		now:        time.Now,
		states:     make(map[int64]ScheduleState),
	}
}

// State returns the lifecycle state of a schedule
func (t *Trigger) State(scheduleID int64) ScheduleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[scheduleID]; ok {
		return st
	}
	return StateIdle
}

// States returns a copy of every tracked state
func (t *Trigger) States() map[int64]ScheduleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int64]ScheduleState, len(t.states))
	for id, st := range t.states {
		out[id] = st
	}
	return out
}

func (t *Trigger) setState(id int64, st ScheduleState) {
	t.mu.Lock()
	t.states[id] = st
	t.mu.Unlock()
}

// begin claims a schedule for one run, moving it to due. It fails while a
// previous run is still pending or executing.
func (t *Trigger) begin(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.states[id]; st == StateDue || st == StateRunning {
		return false
	}
	t.states[id] = StateDue
	return true
}

// Evaluate starts a run for every enabled schedule due at now and returns
// their ids. Runs proceed concurrently; Wait blocks until they finish.
func (t *Trigger) Evaluate(ctx context.Context, now time.Time) []int64 {
	t.mu.Lock()
	for id, st := range t.states {
		if st == StateCoolingDown {
			t.states[id] = StateIdle
		}
	}
	t.mu.Unlock()

	schedules, err := t.store.ListSchedules(ctx, database.ScheduleFilter{EnabledOnly: true})
	if err != nil {
		t.errLog.LogError(apperrors.NewStoreIntegrityError("list schedules", err), "Trigger could not list schedules")
		return nil
	}

	var fired []int64
	for _, s := range schedules {
		slot, due, err := IsDue(s, now, t.opts.MisfireGrace)
		if err != nil {
			t.logger.WithError(err).WithField("schedule", s.Name).Warn("Skipping invalid schedule")
			continue
		}
		if !due {
			continue
		}

		if !t.begin(s.ID) {
			t.logger.WithField("schedule", s.Name).Info("Schedule still running, skipping slot")
			continue
		}

		t.logger.WithFields(logrus.Fields{"schedule": s.Name, "slot": slot.Format(time.RFC3339)}).Info("Schedule due")
		fired = append(fired, s.ID)

		t.wg.Add(1)
		go func(s models.Schedule) {
			defer t.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.logger.WithField("schedule", s.Name).Errorf("Summary run panicked: %v", r)
				}
			}()
			_, _ = t.execute(ctx, s, t.opts.DryRun)
		}(s)
	}
	return fired
}

// Wait blocks until every run started by Evaluate has finished
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// RunNow executes a schedule immediately, bypassing the due check
func (t *Trigger) RunNow(ctx context.Context, scheduleID int64, dryRun bool) (*models.SummaryRun, error) {
	s, err := t.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, apperrors.NewStoreIntegrityError("load schedule", err)
	}
	if s == nil {
		return nil, apperrors.NewNotFoundError("schedule", strconv.FormatInt(scheduleID, 10))
	}
	if !t.begin(s.ID) {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "schedule is already running").
			WithUserMessage("Schedule is already running.")
	}
	return t.execute(ctx, *s, dryRun || t.opts.DryRun)
}

// execute runs s once and records the outcome. last_run is written whatever
// the result.
func (t *Trigger) execute(ctx context.Context, s models.Schedule, dryRun bool) (*models.SummaryRun, error) {
	t.setState(s.ID, StateRunning)
	defer t.setState(s.ID, StateCoolingDown)

	ctx, end := tracing.StartOperation(ctx, "trigger.run",
		attribute.Int64("schedule_id", s.ID),
		attribute.Bool("dry_run", dryRun))

	start := t.now()
	log := t.logger.WithFields(logrus.Fields{"schedule": s.Name, "dry_run": dryRun})
	// bookkeeping must land even when the caller is shutting down
	bookCtx := context.WithoutCancel(ctx)

	run := &models.SummaryRun{
		ID:         uuid.NewString(),
		ScheduleID: s.ID,
		StartedAt:  start,
		Status:     models.RunStatusPending,
		DryRun:     dryRun,
	}
	if err := t.store.CreateSummaryRun(bookCtx, run); err != nil {
		err = apperrors.NewStoreIntegrityError("create summary run", err)
		t.errLog.LogError(err, "Failed to record summary run")
		t.updateLastRun(bookCtx, s, start)
		end(err)
		return nil, err
	}

	count, runErr := t.summarize(ctx, s, start, dryRun)
	finished := t.now()
	run.MessageCount = count

	if runErr != nil {
		msg := runErr.Error()
		run.Status = models.RunStatusFailed
		run.ErrorMessage = &msg
		if err := t.store.FailSummaryRun(bookCtx, run.ID, count, msg, finished); err != nil {
			t.errLog.LogError(err, "Failed to mark summary run failed")
		}
		t.errLog.LogRetryableError(runErr, "Summary run failed", log.Data)
	} else {
		run.Status = models.RunStatusCompleted
		if err := t.store.CompleteSummaryRun(bookCtx, run.ID, count, finished); err != nil {
			t.errLog.LogError(err, "Failed to mark summary run completed")
		}
		log.WithField("messages", count).Info("Summary run completed")
	}
	run.CompletedAt = &finished

	t.updateLastRun(bookCtx, s, start)
	metrics.RecordSummaryRun(string(run.Status), dryRun, finished.Sub(start))
	end(runErr)
	return run, runErr
}

func (t *Trigger) updateLastRun(ctx context.Context, s models.Schedule, at time.Time) {
	if err := t.store.UpdateScheduleLastRun(ctx, s.ID, at); err != nil {
		t.errLog.LogError(err, "Failed to update last run", logrus.Fields{"schedule": s.Name})
	}
}

// summarize builds and sends the summary for the window ending at end. The
// whole run is bounded by the configured timeout; on expiry nothing is sent.
func (t *Trigger) summarize(ctx context.Context, s models.Schedule, end time.Time, dryRun bool) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.opts.RunTimeout)
	defer cancel()

	period := s.SummaryPeriodHours
	if period <= 0 {
		period = constants.DefaultSummaryPeriodHours
	}

	messages, err := t.store.QueryMessages(runCtx, s.SourceGroup, end.Add(-time.Duration(period)*time.Hour), end)
	if err != nil {
		return 0, apperrors.NewStoreIntegrityError("query window", err)
	}

	if len(messages) == 0 {
		if dryRun {
			return 0, nil
		}
		return 0, t.transport.Send(runCtx, s.TargetGroup, NoActivityNotice)
	}

	text, err := t.summarizer.GenerateSummary(runCtx, messages, models.DefaultSummaryConstraints(period, s.DetailMode))
	if err != nil {
		return len(messages), err
	}
	if runCtx.Err() != nil {
		return len(messages), apperrors.NewTimeoutError("summary run", t.opts.RunTimeout.String())
	}

	formatted := FormatSummary(t.transport.GroupName(runCtx, s.SourceGroup), period, messages, text)
	if dryRun {
		t.logger.WithFields(logrus.Fields{
			"schedule": s.Name,
			"parts":    len(SplitMessage(formatted, constants.MaxSignalMessageLength)),
		}).Info("Dry run: summary not sent")
		return len(messages), nil
	}
	return len(messages), sendParts(runCtx, t.transport, s.TargetGroup, formatted)
}
