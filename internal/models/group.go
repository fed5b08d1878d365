package models

import "time"

// RetentionMode selects whether a group follows Signal's disappearing
// messages timer when no fixed override is set.
type RetentionMode string

const (
	RetentionModeFixed        RetentionMode = "fixed"
	RetentionModeSignalSynced RetentionMode = "signal_synced"
)

// PowerLevel controls who may run admin-only commands in a group.
type PowerLevel string

const (
	PowerLevelAdminsOnly PowerLevel = "admins_only"
	PowerLevelEveryone   PowerLevel = "everyone"
)

// GroupPolicy is the per-group state mutated by chat commands. Rows are
// created lazily and never deleted. SignalTimerHours is written by the
// collector only; SaveGroupPolicy leaves it alone.
type GroupPolicy struct {
	GroupID                string        `db:"group_id" json:"group_id"`
	RetentionOverrideHours *int          `db:"retention_override_hours" json:"retention_override_hours,omitempty"`
	RetentionMode          RetentionMode `db:"retention_mode" json:"retention_mode"`
	PowerLevel             PowerLevel    `db:"power_level" json:"power_level"`
	SignalTimerHours       *int          `db:"signal_timer_hours" json:"signal_timer_hours,omitempty"`
	PurgeOnSummary         bool          `db:"purge_on_summary" json:"purge_on_summary"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// TimerHours converts a disappearing-messages timer to whole hours, at
// least one. It returns nil when the timer is off.
func TimerHours(seconds int) *int {
	if seconds <= 0 {
		return nil
	}
	hours := seconds / 3600
	if hours < 1 {
		hours = 1
	}
	return &hours
}

// DefaultGroupPolicy returns the policy of a group seen for the first time.
func DefaultGroupPolicy(groupID string) GroupPolicy {
	return GroupPolicy{
		GroupID:       groupID,
		RetentionMode: RetentionModeSignalSynced,
		PowerLevel:    PowerLevelAdminsOnly,
	}
}

// UserOptOut records that a sender asked not to be collected in a group.
type UserOptOut struct {
	GroupID   string    `db:"group_id" json:"group_id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupInfo is a Signal group as reported by the transport.
type GroupInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Members        []string `json:"members"`
	Admins         []string `json:"admins"`
	PendingInvites []string `json:"pending_invites,omitempty"`
}
