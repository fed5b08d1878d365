package service

import (
	"context"
	"fmt"
	"time"

	"sigsummary/internal/constants"
	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/metrics"
	"sigsummary/internal/privacy"
	"sigsummary/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// SweepResult summarizes one purge pass
type SweepResult struct {
	GroupsSwept     int   `json:"groups_swept"`
	MessagesDeleted int64 `json:"messages_deleted"`
	RunsDeleted     int64 `json:"runs_deleted"`
	ClaimsDeleted   int64 `json:"claims_deleted"`
	Failed          int   `json:"failed"`
	Err             error `json:"-"`
}

// Sweeper deletes stored content once it falls outside its retention horizon
type Sweeper struct {
	store        Store
	resolver     *RetentionResolver
	locks        *GroupLocks
	runRetention time.Duration
	logger       *logrus.Logger
	errLog       *apperrors.Logger
	now          func() time.Time
}

func NewSweeper(store Store, resolver *RetentionResolver, locks *GroupLocks, summaryRunHours int, logger *logrus.Logger) *Sweeper {
	if summaryRunHours <= 0 {
		summaryRunHours = constants.DefaultSummaryRunHours
	}
	return &Sweeper{
		store:        store,
		resolver:     resolver,
		locks:        locks,
		runRetention: time.Duration(summaryRunHours) * time.Hour,
		logger:       logger,
		errLog:       apperrors.FromLogrus(logger),
		now:          time.Now,
	}
}

// Sweep purges expired messages of every group with stored content and prunes
// old summary runs. A failing group is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	ctx, end := tracing.StartOperation(ctx, "sweeper.sweep")
	var result SweepResult
	defer func() { end(result.Err) }()

	groups, err := s.store.GroupsWithMessages(ctx)
	if err != nil {
		result.Err = apperrors.NewStoreIntegrityError("list groups", err)
		result.Failed++
		s.errLog.LogError(result.Err, "Sweep could not list groups")
		return result
	}

	now := s.now()
	for _, groupID := range groups {
		if ctx.Err() != nil {
			result.Err = multierr.Append(result.Err, ctx.Err())
			break
		}
		deleted, err := s.sweepGroup(ctx, groupID, now)
		if err != nil {
			result.Failed++
			result.Err = multierr.Append(result.Err, fmt.Errorf("group %s: %w", privacy.MaskGroupID(groupID), err))
			s.errLog.LogError(err, "Failed to sweep group", LogWithContext(ctx, s.logger, logrus.Fields{"group_id": groupID}).Data)
			continue
		}
		result.GroupsSwept++
		result.MessagesDeleted += deleted
	}

	runs, err := s.store.DeleteSummaryRunsBefore(ctx, now.Add(-s.runRetention))
	if err != nil {
		result.Err = multierr.Append(result.Err, apperrors.NewStoreIntegrityError("prune summary runs", err))
		s.errLog.LogError(err, "Failed to prune summary runs")
	}
	result.RunsDeleted = runs

	// A claim only has to outlive any redelivery of its command.
	claims, err := s.store.DeleteHandledCommandsBefore(ctx, now.Add(-time.Duration(constants.HandledCommandRetentionHours)*time.Hour))
	if err != nil {
		result.Err = multierr.Append(result.Err, apperrors.NewStoreIntegrityError("prune handled commands", err))
		s.errLog.LogError(err, "Failed to prune handled commands")
	}
	result.ClaimsDeleted = claims

	metrics.RecordPurged("sweep", result.MessagesDeleted)
	tracing.AddSpanAttributes(ctx,
		attribute.Int("groups", result.GroupsSwept),
		attribute.Int64("deleted", result.MessagesDeleted))

	entry := s.logger.WithFields(logrus.Fields{
		"groups":  result.GroupsSwept,
		"deleted": result.MessagesDeleted,
		"runs":    result.RunsDeleted,
		"failed":  result.Failed,
	})
	if result.MessagesDeleted > 0 || result.RunsDeleted > 0 || result.Failed > 0 {
		entry.Info("Retention sweep completed")
	} else {
		entry.Debug("Retention sweep completed")
	}
	return result
}

func (s *Sweeper) sweepGroup(ctx context.Context, groupID string, now time.Time) (int64, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	hours, source, err := s.resolver.ResolveRetention(ctx, groupID)
	if err != nil {
		return 0, apperrors.NewStoreIntegrityError("resolve retention", err)
	}
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	deleted, err := s.store.DeleteMessagesBefore(ctx, groupID, cutoff)
	if err != nil {
		return 0, apperrors.NewStoreIntegrityError("purge expired", err)
	}
	if deleted > 0 {
		LogWithContext(ctx, s.logger, logrus.Fields{
			"group_id": groupID,
			"hours":    hours,
			"source":   source,
			"deleted":  deleted,
		}).Debug("Purged expired messages")
	}
	return deleted, nil
}

// PurgeGroup deletes every stored message of a group
func (s *Sweeper) PurgeGroup(ctx context.Context, groupID string) (int64, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()
	return s.purgeGroup(ctx, groupID)
}

func (s *Sweeper) purgeGroup(ctx context.Context, groupID string) (int64, error) {
	deleted, err := s.store.DeleteGroupMessages(ctx, groupID)
	if err != nil {
		return 0, apperrors.NewStoreIntegrityError("purge group", err)
	}
	metrics.RecordPurged("group", deleted)
	return deleted, nil
}

// PurgeSummarized deletes a group's messages up to and including windowEnd,
// once a summary of them was delivered
func (s *Sweeper) PurgeSummarized(ctx context.Context, groupID string, windowEnd time.Time) (int64, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	deleted, err := s.store.DeleteMessagesBefore(ctx, groupID, windowEnd.Add(time.Millisecond))
	if err != nil {
		return 0, apperrors.NewStoreIntegrityError("purge summarized", err)
	}
	metrics.RecordPurged("summary", deleted)
	return deleted, nil
}

// PurgeSender deletes one sender's stored messages in a group
func (s *Sweeper) PurgeSender(ctx context.Context, groupID, senderID string) (int64, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()
	return s.purgeSender(ctx, groupID, senderID)
}

func (s *Sweeper) purgeSender(ctx context.Context, groupID, senderID string) (int64, error) {
	deleted, err := s.store.DeleteSenderMessages(ctx, groupID, senderID)
	if err != nil {
		return 0, apperrors.NewStoreIntegrityError("purge sender", err)
	}
	metrics.RecordPurged("opt_out", deleted)
	return deleted, nil
}
