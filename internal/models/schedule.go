package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type ScheduleType string

const (
	ScheduleTypeDaily  ScheduleType = "daily"
	ScheduleTypeWeekly ScheduleType = "weekly"
)

// TimeList is a set of "HH:MM" wall-clock times stored as a JSON array.
type TimeList []string

func (t TimeList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *TimeList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type %T for TimeList", src)
	}
	return json.Unmarshal(raw, (*[]string)(t))
}

// Schedule describes when a group is summarized and where the summary goes.
// DayOfWeek is 0=Monday..6=Sunday and only used by weekly schedules.
type Schedule struct {
	ID                 int64        `db:"id" json:"id"`
	Name               string       `db:"name" json:"name"`
	SourceGroup        string       `db:"source_group" json:"source_group"`
	TargetGroup        string       `db:"target_group" json:"target_group"`
	ScheduleType       ScheduleType `db:"schedule_type" json:"schedule_type"`
	Times              TimeList     `db:"schedule_times" json:"times"`
	DayOfWeek          *int         `db:"day_of_week" json:"day_of_week,omitempty"`
	Timezone           string       `db:"timezone" json:"timezone"`
	SummaryPeriodHours int          `db:"summary_period_hours" json:"summary_period_hours"`
	RetentionHours     int          `db:"retention_hours" json:"retention_hours"`
	DetailMode         bool         `db:"detail_mode" json:"detail_mode"`
	Enabled            bool         `db:"enabled" json:"enabled"`
	LastRun            *time.Time   `db:"last_run" json:"last_run,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
}

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SummaryRun is the audit record of one summary execution. The summary text
// itself is never stored.
type SummaryRun struct {
	ID           string     `db:"id" json:"id"`
	ScheduleID   int64      `db:"schedule_id" json:"schedule_id"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	MessageCount int        `db:"message_count" json:"message_count"`
	Status       RunStatus  `db:"status" json:"status"`
	DryRun       bool       `db:"dry_run" json:"dry_run"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}
