package service

import (
	"context"
	"time"

	"sigsummary/internal/database"
	"sigsummary/internal/models"
)

// Transport is the messaging side of the engine
type Transport interface {
	Receive(ctx context.Context, timeout time.Duration) ([]models.Event, error)
	Send(ctx context.Context, groupID, text string) error
	ListGroups(ctx context.Context) ([]models.GroupInfo, error)
	GroupName(ctx context.Context, groupID string) string
	IsGroupAdmin(ctx context.Context, groupID, senderID string) (bool, error)
	// AcceptInvite joins groupID when this account has a pending invite.
	// It reports whether a join happened.
	AcceptInvite(ctx context.Context, groupID string) (bool, error)
}

// Summarizer renders a window of messages into summary text
type Summarizer interface {
	GenerateSummary(ctx context.Context, messages []models.Message, constraints models.SummaryConstraints) (string, error)
}

// MessageStore is the slice of the store used for collected content
type MessageStore interface {
	PutMessage(ctx context.Context, msg *models.Message) (bool, error)
	MessageExists(ctx context.Context, key models.MessageKey) (bool, error)
	PutReaction(ctx context.Context, r models.Reaction) (bool, error)
	QueryMessages(ctx context.Context, groupID string, from, to time.Time) ([]models.Message, error)
	CountMessages(ctx context.Context, groupID string) (int, error)
	GroupsWithMessages(ctx context.Context) ([]string, error)
	DeleteMessagesBefore(ctx context.Context, groupID string, cutoff time.Time) (int64, error)
	DeleteGroupMessages(ctx context.Context, groupID string) (int64, error)
	DeleteSenderMessages(ctx context.Context, groupID, senderID string) (int64, error)
}

// PolicyStore holds group policies, opt-outs and handled commands
type PolicyStore interface {
	GetGroupPolicy(ctx context.Context, groupID string) (*models.GroupPolicy, error)
	EnsureGroupPolicy(ctx context.Context, groupID string) (*models.GroupPolicy, error)
	SaveGroupPolicy(ctx context.Context, policy *models.GroupPolicy) error
	SetSignalTimer(ctx context.Context, groupID string, hours *int) (bool, error)
	ClaimCommand(ctx context.Context, key models.MessageKey) (bool, error)
	DeleteHandledCommandsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SetOptOut(ctx context.Context, groupID, senderID string, optedOut bool) (bool, error)
	IsOptedOut(ctx context.Context, groupID, senderID string) (bool, error)
}

// ScheduleStore holds schedules and the summary run audit trail
type ScheduleStore interface {
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	ListSchedules(ctx context.Context, filter database.ScheduleFilter) ([]models.Schedule, error)
	UpdateScheduleLastRun(ctx context.Context, id int64, at time.Time) error
	CreateSummaryRun(ctx context.Context, run *models.SummaryRun) error
	CompleteSummaryRun(ctx context.Context, id string, messageCount int, at time.Time) error
	FailSummaryRun(ctx context.Context, id string, messageCount int, errMsg string, at time.Time) error
	DeleteSummaryRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is everything the engine persists. *database.Database implements it.
type Store interface {
	MessageStore
	PolicyStore
	ScheduleStore
}

var _ Store = (*database.Database)(nil)
