package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/models"
)

const (
	cliSourceGroup = "group.c291cmNlZ3JvdXAxMjM="
	cliTargetGroup = "group.dGFyZ2V0Z3JvdXA0NTY="
)

func addSchedule(t *testing.T, path string, extra ...string) string {
	t.Helper()
	args := append([]string{"--config", path, "schedule", "add",
		"--name", "evening", "--source", cliSourceGroup, "--target", cliTargetGroup,
		"--times", "08:00,20:00", "--timezone", "America/Chicago", "--period", "12"}, extra...)
	out, err := runCLI(t, args...)
	require.NoError(t, err)
	return out
}

func TestScheduleLifecycle(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))

	assert.Equal(t, "Created schedule #1 (evening)\n", addSchedule(t, path))

	out, err := runCLI(t, "--config", path, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "evening")
	assert.Contains(t, out, "daily 08:00,20:00 America/Chicago")
	assert.Contains(t, out, "12h")
	assert.Contains(t, out, "never")
	assert.NotContains(t, out, cliSourceGroup, "group ids are masked without --verbose")

	out, err = runCLI(t, "--config", path, "--verbose", "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, cliSourceGroup)

	out, err = runCLI(t, "--config", path, "schedule", "disable", "1")
	require.NoError(t, err)
	assert.Equal(t, "Schedule #1 disabled\n", out)

	out, err = runCLI(t, "--config", path, "schedule", "list", "--enabled")
	require.NoError(t, err)
	assert.Equal(t, "No schedules.\n", out)

	out, err = runCLI(t, "--config", path, "schedule", "enable", "1")
	require.NoError(t, err)
	assert.Equal(t, "Schedule #1 enabled\n", out)

	out, err = runCLI(t, "--config", path, "schedule", "remove", "1")
	require.NoError(t, err)
	assert.Equal(t, "Schedule #1 removed\n", out)

	_, err = runCLI(t, "--config", path, "schedule", "remove", "1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestScheduleAdd_Weekly(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))
	addSchedule(t, path, "--type", "weekly", "--day", "6", "--detail")

	out, err := runCLI(t, "--config", path, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Sun 08:00,20:00 America/Chicago")
}

func TestScheduleAdd_Invalid(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))

	tests := []struct {
		name string
		args []string
	}{
		{"bad time", []string{"--times", "25:00"}},
		{"weekly without day", []string{"--type", "weekly"}},
		{"daily with day", []string{"--day", "2"}},
		{"unknown timezone", []string{"--timezone", "Mars/Olympus"}},
		{"retention out of range", []string{"--retention", "500"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", path, "schedule", "add",
				"--name", "bad", "--source", cliSourceGroup, "--times", "08:00"}, tt.args...)
			_, err := runCLI(t, args...)
			assert.Error(t, err)
		})
	}

	_, err := runCLI(t, "--config", path, "schedule", "add", "--name", "x", "--times", "08:00")
	assert.ErrorContains(t, err, "source")
}

func TestScheduleIDValidation(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))

	for _, sub := range []string{"enable", "disable", "remove", "run", "history"} {
		_, err := runCLI(t, "--config", path, "schedule", sub, "zero")
		require.Error(t, err, sub)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed), sub)
	}
}

func TestScheduleRun_DryRunEmptyWindow(t *testing.T) {
	backends := newFakeBackends(t)
	path := writeTestConfig(t, backends)
	addSchedule(t, path)

	out, err := runCLI(t, "--config", path, "schedule", "run", "1", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "0 messages")
	assert.Contains(t, out, "(dry run)")
	assert.Equal(t, 0, backends.sendCount())

	out, err = runCLI(t, "--config", path, "schedule", "history", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "(dry run)")

	out, err = runCLI(t, "--config", path, "schedule", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "never")
}

func TestScheduleRun_NotFound(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))

	_, err := runCLI(t, "--config", path, "schedule", "run", "42")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestScheduleHistory_Empty(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))
	addSchedule(t, path)

	out, err := runCLI(t, "--config", path, "schedule", "history", "1")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.\n", out)
}

func TestWriteScheduleTable_LastRun(t *testing.T) {
	now := time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)
	lastRun := now.Add(-3 * time.Hour)
	day := 0

	var buf bytes.Buffer
	writeScheduleTable(&buf, []models.Schedule{{
		ID: 7, Name: "weekly", SourceGroup: cliSourceGroup, TargetGroup: cliTargetGroup,
		ScheduleType: models.ScheduleTypeWeekly, DayOfWeek: &day, Times: models.TimeList{"09:30"},
		Timezone: "UTC", SummaryPeriodHours: 168, Enabled: true, LastRun: &lastRun,
	}}, now, false)

	out := buf.String()
	assert.Contains(t, out, "Mon 09:30 UTC")
	assert.Contains(t, out, "3 hours ago")
	assert.Contains(t, out, "168h")
}

func TestDescribeRun(t *testing.T) {
	msg := "BACKEND_UNAVAILABLE: summarizer unreachable"
	run := models.SummaryRun{
		StartedAt:    time.Date(2026, 5, 4, 20, 5, 0, 0, time.UTC),
		Status:       models.RunStatusFailed,
		MessageCount: 1234,
		ErrorMessage: &msg,
	}
	assert.Equal(t, "2026-05-04T20:05:00Z  failed  1,234 messages  error: "+msg, describeRun(run))
}
