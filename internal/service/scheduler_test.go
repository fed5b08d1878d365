package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, *triggerFixture) {
	t.Helper()
	f := newTriggerFixture(t, TriggerOptions{})
	resolver := NewRetentionResolver(f.db, f.db, 48)
	sweeper := NewSweeper(f.db, resolver, NewGroupLocks(), 0, testLogger())
	return NewScheduler(sweeper, f.trigger, 60, testLogger()), f
}

func TestScheduler_StartRunsCatchUpSweep(t *testing.T) {
	scheduler, f := newTestScheduler(t)
	storeMessage(t, f.db, sourceGroup, "a", time.Now().Add(-72*time.Hour), "expired")
	storeMessage(t, f.db, sourceGroup, "a", time.Now().Add(-time.Hour), "kept")

	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop()

	assert.True(t, scheduler.IsRunning())
	assert.EqualValues(t, 1, scheduler.LastSweep().MessagesDeleted)
	n, err := f.db.CountMessages(context.Background(), sourceGroup)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScheduler_StartTwice(t *testing.T) {
	scheduler, _ := newTestScheduler(t)

	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop()

	assert.Error(t, scheduler.Start(context.Background()))
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	scheduler, _ := newTestScheduler(t)

	scheduler.Stop()
	require.NoError(t, scheduler.Start(context.Background()))
	scheduler.Stop()
	scheduler.Stop()

	assert.False(t, scheduler.IsRunning())
}

func TestScheduler_TickRecordsTime(t *testing.T) {
	scheduler, _ := newTestScheduler(t)
	assert.True(t, scheduler.LastTick().IsZero())

	scheduler.tick(context.Background())

	assert.WithinDuration(t, time.Now(), scheduler.LastTick(), time.Second)
}

func TestCronLogger(t *testing.T) {
	logger, buf := captureLogger()
	cl := cronLogger{logger}

	cl.Info("start", "now", "x", "dangling")
	cl.Error(errors.New("boom"), "job failed", "entry", 3)

	assert.Contains(t, buf.String(), "cron: start")
	assert.Contains(t, buf.String(), "cron: job failed")
	assert.Contains(t, buf.String(), "boom")
}
