package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"sigsummary/internal/constants"
	"sigsummary/internal/database"
	"sigsummary/internal/models"
)

// RetentionSource names the rule that produced a retention horizon
type RetentionSource string

const (
	RetentionSourceOverride RetentionSource = "fixed"
	RetentionSourceSignal   RetentionSource = "auto"
	RetentionSourceSchedule RetentionSource = "schedule"
	RetentionSourceDefault  RetentionSource = "default"
)

// RetentionResolver computes a group's retention horizon on every call. The
// first rule with a value wins: fixed override, the stored Signal
// disappearing timer (signal_synced groups only), the shortest retention of
// the group's enabled schedules, then the global default.
type RetentionResolver struct {
	policies     PolicyStore
	schedules    ScheduleStore
	defaultHours atomic.Int64
}

func NewRetentionResolver(policies PolicyStore, schedules ScheduleStore, defaultHours int) *RetentionResolver {
	r := &RetentionResolver{
		policies:  policies,
		schedules: schedules,
	}
	r.SetDefaultHours(defaultHours)
	return r
}

// SetDefaultHours replaces the global default. Out of range values fall back
// to the built-in default.
func (r *RetentionResolver) SetDefaultHours(hours int) {
	if hours < constants.MinRetentionHours || hours > constants.MaxRetentionHours {
		hours = constants.DefaultRetentionHours
	}
	r.defaultHours.Store(int64(hours))
}

func (r *RetentionResolver) DefaultHours() int {
	return int(r.defaultHours.Load())
}

// ResolveRetention returns the horizon in hours for groupID and the rule it
// came from
func (r *RetentionResolver) ResolveRetention(ctx context.Context, groupID string) (int, RetentionSource, error) {
	policy, err := r.policies.GetGroupPolicy(ctx, groupID)
	if err != nil {
		return 0, "", fmt.Errorf("failed to load group policy: %w", err)
	}
	if policy == nil {
		p := models.DefaultGroupPolicy(groupID)
		policy = &p
	}

	if policy.RetentionOverrideHours != nil {
		return *policy.RetentionOverrideHours, RetentionSourceOverride, nil
	}

	if policy.RetentionMode == models.RetentionModeSignalSynced {
		if hours := policy.SignalTimerHours; hours != nil && *hours > 0 {
			return *hours, RetentionSourceSignal, nil
		}
	}

	schedules, err := r.schedules.ListSchedules(ctx, database.ScheduleFilter{EnabledOnly: true, SourceGroup: groupID})
	if err != nil {
		return 0, "", fmt.Errorf("failed to list schedules: %w", err)
	}
	shortest := 0
	for _, s := range schedules {
		if s.RetentionHours > 0 && (shortest == 0 || s.RetentionHours < shortest) {
			shortest = s.RetentionHours
		}
	}
	if shortest > 0 {
		return shortest, RetentionSourceSchedule, nil
	}

	return r.DefaultHours(), RetentionSourceDefault, nil
}
