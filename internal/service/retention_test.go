package service

import (
	"context"
	"testing"

	"sigsummary/internal/constants"
	"sigsummary/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRetention(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	resolver := NewRetentionResolver(db, db, 48)

	t.Run("unknown group uses default", func(t *testing.T) {
		hours, source, err := resolver.ResolveRetention(ctx, "group.new")
		require.NoError(t, err)
		assert.Equal(t, 48, hours)
		assert.Equal(t, RetentionSourceDefault, source)
	})

	t.Run("signal timer applies to synced groups", func(t *testing.T) {
		setSignalTimer(t, db, "group.sync", 6*3600)

		hours, source, err := resolver.ResolveRetention(ctx, "group.sync")
		require.NoError(t, err)
		assert.Equal(t, 6, hours)
		assert.Equal(t, RetentionSourceSignal, source)

		// The timer lives in the store, so a fresh resolver sees it too.
		restarted := NewRetentionResolver(db, db, 48)
		hours, source, err = restarted.ResolveRetention(ctx, "group.sync")
		require.NoError(t, err)
		assert.Equal(t, 6, hours)
		assert.Equal(t, RetentionSourceSignal, source)
	})

	t.Run("override beats signal timer", func(t *testing.T) {
		policy, err := db.EnsureGroupPolicy(ctx, "group.fixed")
		require.NoError(t, err)
		policy.RetentionOverrideHours = intPtr(12)
		policy.RetentionMode = models.RetentionModeFixed
		require.NoError(t, db.SaveGroupPolicy(ctx, policy))
		setSignalTimer(t, db, "group.fixed", 3600)

		hours, source, err := resolver.ResolveRetention(ctx, "group.fixed")
		require.NoError(t, err)
		assert.Equal(t, 12, hours)
		assert.Equal(t, RetentionSourceOverride, source)
	})

	t.Run("override beats signal timer in synced mode", func(t *testing.T) {
		policy, err := db.EnsureGroupPolicy(ctx, "group.both")
		require.NoError(t, err)
		policy.RetentionOverrideHours = intPtr(12)
		policy.RetentionMode = models.RetentionModeSignalSynced
		require.NoError(t, db.SaveGroupPolicy(ctx, policy))
		setSignalTimer(t, db, "group.both", 3*3600)

		stored, err := db.GetGroupPolicy(ctx, "group.both")
		require.NoError(t, err)
		require.NotNil(t, stored.SignalTimerHours)
		assert.Equal(t, models.RetentionModeSignalSynced, stored.RetentionMode)

		hours, source, err := resolver.ResolveRetention(ctx, "group.both")
		require.NoError(t, err)
		assert.Equal(t, 12, hours)
		assert.Equal(t, RetentionSourceOverride, source)
	})

	t.Run("fixed mode ignores signal timer", func(t *testing.T) {
		policy, err := db.EnsureGroupPolicy(ctx, "group.nosync")
		require.NoError(t, err)
		policy.RetentionMode = models.RetentionModeFixed
		require.NoError(t, db.SaveGroupPolicy(ctx, policy))
		setSignalTimer(t, db, "group.nosync", 3600)

		hours, source, err := resolver.ResolveRetention(ctx, "group.nosync")
		require.NoError(t, err)
		assert.Equal(t, 48, hours)
		assert.Equal(t, RetentionSourceDefault, source)
	})

	t.Run("shortest enabled schedule wins", func(t *testing.T) {
		for _, s := range []models.Schedule{
			{Name: "a", RetentionHours: 72, Enabled: true},
			{Name: "b", RetentionHours: 24, Enabled: true},
			{Name: "c", RetentionHours: 2, Enabled: false},
		} {
			s.SourceGroup = "group.sched"
			s.TargetGroup = "group.sched"
			s.ScheduleType = models.ScheduleTypeDaily
			s.Times = models.TimeList{"08:00"}
			s.Timezone = "UTC"
			s.SummaryPeriodHours = 24
			require.NoError(t, db.CreateSchedule(ctx, &s))
		}

		hours, source, err := resolver.ResolveRetention(ctx, "group.sched")
		require.NoError(t, err)
		assert.Equal(t, 24, hours)
		assert.Equal(t, RetentionSourceSchedule, source)
	})
}

func TestRetentionResolver_DefaultHours(t *testing.T) {
	db := newTestStore(t)
	resolver := NewRetentionResolver(db, db, 0)
	assert.Equal(t, constants.DefaultRetentionHours, resolver.DefaultHours())

	resolver.SetDefaultHours(24)
	assert.Equal(t, 24, resolver.DefaultHours())

	resolver.SetDefaultHours(1000)
	assert.Equal(t, constants.DefaultRetentionHours, resolver.DefaultHours())
}
