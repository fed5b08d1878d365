package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sigsummary/internal/models"
)

// CreateSchedule inserts s and fills in its ID and CreatedAt
func (d *Database) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = d.now().UTC()
	}

	res, err := d.db.NamedExecContext(ctx, insertScheduleQuery, s)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read schedule id: %w", err)
	}
	return nil
}

// GetSchedule returns the schedule or nil when it does not exist
func (d *Database) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	query, args, err := d.builder.Select(selectScheduleColumns).From("schedules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule query: %w", err)
	}

	var s models.Schedule
	err = d.db.GetContext(ctx, &s, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &s, nil
}

// ScheduleFilter narrows ListSchedules. Zero values match everything.
type ScheduleFilter struct {
	EnabledOnly bool
	SourceGroup string
}

// ListSchedules returns schedules ordered by id
func (d *Database) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]models.Schedule, error) {
	qb := d.builder.Select(selectScheduleColumns).From("schedules").OrderBy("id ASC")
	if filter.EnabledOnly {
		qb = qb.Where(sq.Eq{"enabled": true})
	}
	if filter.SourceGroup != "" {
		qb = qb.Where(sq.Eq{"source_group": filter.SourceGroup})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule query: %w", err)
	}

	var schedules []models.Schedule
	if err := d.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// SetScheduleEnabled toggles a schedule
func (d *Database) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error {
	return d.execOne(ctx, "update schedule", updateScheduleEnabledQuery, enabled, id)
}

// UpdateScheduleLastRun records when the schedule last fired
func (d *Database) UpdateScheduleLastRun(ctx context.Context, id int64, at time.Time) error {
	return d.execOne(ctx, "update schedule last run", updateScheduleLastRunQuery, at.UTC(), id)
}

// DeleteSchedule removes a schedule and its run history
func (d *Database) DeleteSchedule(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete schedule", deleteScheduleQuery, id)
}

func (d *Database) execOne(ctx context.Context, operation, query string, args ...interface{}) error {
	var affected int64
	err := withRetry(ctx, operation, func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound is returned when an update or delete matched no row
var ErrNotFound = errors.New("record not found")

// CreateSummaryRun inserts a pending run
func (d *Database) CreateSummaryRun(ctx context.Context, run *models.SummaryRun) error {
	run.StartedAt = run.StartedAt.UTC()
	err := withRetry(ctx, "create summary run", func(ctx context.Context) error {
		_, err := d.db.NamedExecContext(ctx, insertSummaryRunQuery, run)
		return err
	})
	if err != nil {
		return err
	}
	return nil
}

// CompleteSummaryRun marks a pending run completed
func (d *Database) CompleteSummaryRun(ctx context.Context, id string, messageCount int, at time.Time) error {
	return d.execOne(ctx, "complete summary run", finishSummaryRunQuery,
		models.RunStatusCompleted, at.UTC(), messageCount, nil, id)
}

// FailSummaryRun marks a pending run failed with its error
func (d *Database) FailSummaryRun(ctx context.Context, id string, messageCount int, errMsg string, at time.Time) error {
	return d.execOne(ctx, "fail summary run", finishSummaryRunQuery,
		models.RunStatusFailed, at.UTC(), messageCount, errMsg, id)
}

// ListSummaryRuns returns a schedule's runs, newest first. limit <= 0 means all.
func (d *Database) ListSummaryRuns(ctx context.Context, scheduleID int64, limit int) ([]models.SummaryRun, error) {
	qb := d.builder.Select(selectSummaryRunColumns).
		From("summary_runs").
		Where(sq.Eq{"schedule_id": scheduleID}).
		OrderBy("started_at DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	var runs []models.SummaryRun
	if err := d.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list summary runs: %w", err)
	}
	return runs, nil
}

// DeleteSummaryRunsBefore removes finished runs started before cutoff
func (d *Database) DeleteSummaryRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := d.builder.Delete("summary_runs").
		Where(sq.Lt{"started_at": cutoff.UTC()}).
		Where(sq.NotEq{"status": models.RunStatusPending}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build run purge query: %w", err)
	}

	var deleted int64
	err = withRetry(ctx, "purge summary runs", func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
