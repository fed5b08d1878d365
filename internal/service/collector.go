package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sigsummary/internal/constants"
	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/metrics"
	"sigsummary/internal/models"
	"sigsummary/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// CollectionResult reports one collection cycle. Degraded is set when every
// attempt failed at the transport.
type CollectionResult struct {
	MessagesStored  int  `json:"messages_stored"`
	ReactionsStored int  `json:"reactions_stored"`
	Duplicates      int  `json:"duplicates"`
	CommandsHandled int  `json:"commands_handled"`
	AttemptsUsed    int  `json:"attempts_used"`
	FailedAttempts  int  `json:"failed_attempts"`
	Degraded        bool `json:"degraded"`
}

// CommandDispatcher runs in-chat commands on behalf of the collector
type CommandDispatcher interface {
	IsCommand(text string) bool
	Dispatch(ctx context.Context, ev models.Event) (bool, error)
}

// Collector drains the transport into the store
type Collector struct {
	transport  Transport
	store      Store
	ledger     *Ledger
	dispatcher CommandDispatcher
	locks      *GroupLocks
	logger     *logrus.Logger
	errLog     *apperrors.Logger

	acceptInvites atomic.Bool

	// one Collect at a time
	running sync.Mutex

	mu          sync.Mutex
	knownGroups map[string]struct{}
	timers      map[string]int // last stored timer hours, 0 when off
}

// pendingReaction waits for its target message within one cycle
type pendingReaction struct {
	key      models.MessageKey
	reaction models.Reaction
}

func NewCollector(transport Transport, store Store, ledger *Ledger, dispatcher CommandDispatcher, locks *GroupLocks, logger *logrus.Logger) *Collector {
	return &Collector{
		transport:   transport,
		store:       store,
		ledger:      ledger,
		dispatcher:  dispatcher,
		locks:       locks,
		logger:      logger,
		errLog:      apperrors.FromLogrus(logger),
		knownGroups: make(map[string]struct{}),
		timers:      make(map[string]int),
	}
}

// SetAcceptInvites turns joining groups this account is invited to on or off
func (c *Collector) SetAcceptInvites(enabled bool) {
	c.acceptInvites.Store(enabled)
}

// Collect runs up to maxAttempts receive attempts. It stops early after an
// attempt that yields nothing new. Reactions whose target is not stored yet
// are retried after each attempt and dropped when the cycle ends.
func (c *Collector) Collect(ctx context.Context, maxAttempts int, perAttemptTimeout time.Duration) CollectionResult {
	c.running.Lock()
	defer c.running.Unlock()

	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultCollectionAttempts
	}
	if perAttemptTimeout <= 0 {
		perAttemptTimeout = time.Duration(constants.DefaultCollectionAttemptTimeoutSec) * time.Second
	}

	ctx, end := tracing.StartOperation(ctx, "collector.collect", attribute.Int("max_attempts", maxAttempts))
	var result CollectionResult
	var pending []pendingReaction

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		result.AttemptsUsed++

		// The server holds the request for up to perAttemptTimeout; the
		// client deadline must outlast it or taken envelopes are lost.
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout+constants.ReceiveDeadlineSlackSec*time.Second)
		events, err := c.transport.Receive(attemptCtx, perAttemptTimeout)
		cancel()
		metrics.RecordCollectionAttempt(err == nil)
		if err != nil {
			result.FailedAttempts++
			c.errLog.LogRetryableError(err, "Receive attempt failed", logrus.Fields{"attempt": attempt})
			continue
		}

		fresh := 0
		for _, ev := range events {
			if ev.Type == models.EventGroupUpdate {
				c.handleGroupUpdate(ctx, ev)
				continue
			}
			if ev.Type == models.EventReaction {
				if c.handleReaction(ctx, ev, &result, &pending) {
					fresh++
				}
				continue
			}
			if c.handleMessage(ctx, ev, &result) {
				fresh++
			}
		}
		pending = c.retryReactions(ctx, pending, &result)

		if fresh == 0 {
			break
		}
	}

	if len(pending) > 0 {
		c.logger.WithField("count", len(pending)).Debug("Dropping reactions to unknown messages")
	}
	result.Degraded = result.AttemptsUsed > 0 && result.FailedAttempts == result.AttemptsUsed

	metrics.RecordStored("message", result.MessagesStored)
	metrics.RecordStored("reaction", result.ReactionsStored)
	metrics.RecordDuplicates(result.Duplicates)
	tracing.AddSpanAttributes(ctx,
		attribute.Int("stored", result.MessagesStored),
		attribute.Int("attempts", result.AttemptsUsed),
		attribute.Bool("degraded", result.Degraded))
	end(nil)

	LogCollection(ctx, c.logger, result)
	return result
}

// accept applies the rules shared by every event kind and reports whether
// the event may be processed further
func (c *Collector) accept(ctx context.Context, ev models.Event) bool {
	if !ev.IsGroup() || ev.FromSelf || ev.SenderID == "" {
		return false
	}
	c.ensurePolicy(ctx, ev.GroupID)
	return true
}

func (c *Collector) ensurePolicy(ctx context.Context, groupID string) {
	c.mu.Lock()
	_, known := c.knownGroups[groupID]
	c.mu.Unlock()
	if known {
		return
	}
	if _, err := c.store.EnsureGroupPolicy(ctx, groupID); err != nil {
		c.errLog.LogWarn(err, "Failed to create group policy")
		return
	}
	c.mu.Lock()
	c.knownGroups[groupID] = struct{}{}
	c.mu.Unlock()
}

// handleMessage reports whether ev was new
func (c *Collector) handleMessage(ctx context.Context, ev models.Event, result *CollectionResult) bool {
	if !c.accept(ctx, ev) {
		return false
	}
	if ev.ExpiresInSeconds != nil {
		c.observeTimer(ctx, ev.GroupID, *ev.ExpiresInSeconds)
	}

	key := ev.Key()
	if c.ledger.Seen(key) {
		result.Duplicates++
		return false
	}

	if c.dispatcher != nil && c.dispatcher.IsCommand(ev.Body) {
		// The claim outlives the ledger, so a command redelivered after a
		// restart or an eviction still runs once.
		claimed, err := c.store.ClaimCommand(ctx, key)
		if err != nil {
			c.errLog.LogError(apperrors.NewStoreIntegrityError("claim command", err), "Skipping command")
			return false
		}
		c.ledger.Mark(key)
		if !claimed {
			result.Duplicates++
			return false
		}
		result.CommandsHandled++
		if _, err := c.dispatcher.Dispatch(ctx, ev); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodePermissionDenied) || apperrors.HasCode(err, apperrors.ErrCodePolicyConflict) {
				c.logger.WithField("code", apperrors.GetCode(err)).Info("Command rejected")
			} else {
				c.errLog.LogRetryableError(err, "Command failed")
			}
		}
		return true
	}

	optedOut, err := c.store.IsOptedOut(ctx, ev.GroupID, ev.SenderID)
	if err != nil {
		c.errLog.LogError(apperrors.NewStoreIntegrityError("check opt-out", err), "Skipping message")
		return false
	}
	if optedOut {
		c.ledger.Mark(key)
		return true
	}

	unlock := c.locks.Lock(ev.GroupID)
	inserted, err := c.store.PutMessage(ctx, ev.Message())
	unlock()
	if err != nil {
		c.errLog.LogError(apperrors.NewStoreIntegrityError("store message", err), "Failed to store message",
			LogWithContext(ctx, c.logger, logrus.Fields{"group_id": ev.GroupID}).Data)
		return false
	}

	c.ledger.Mark(key)
	if !inserted {
		result.Duplicates++
		return false
	}
	result.MessagesStored++
	return true
}

// observeTimer stores the group's disappearing-messages timer when it differs
// from the last value written
func (c *Collector) observeTimer(ctx context.Context, groupID string, seconds int) {
	hours := models.TimerHours(seconds)
	value := 0
	if hours != nil {
		value = *hours
	}

	c.mu.Lock()
	last, cached := c.timers[groupID]
	_, known := c.knownGroups[groupID]
	c.mu.Unlock()
	if cached && last == value {
		return
	}

	unlock := c.locks.Lock(groupID)
	changed, err := c.store.SetSignalTimer(ctx, groupID, hours)
	unlock()
	if err != nil {
		c.errLog.LogWarn(err, "Failed to store disappearing timer")
		return
	}
	if changed {
		LogWithContext(ctx, c.logger, logrus.Fields{"group_id": groupID, "hours": value}).Info("Disappearing timer changed")
	}
	// Without a policy row the update matched nothing; try again next time.
	if known {
		c.mu.Lock()
		c.timers[groupID] = value
		c.mu.Unlock()
	}
}

// handleGroupUpdate joins the group when the update is an invite of this
// account, then greets it
func (c *Collector) handleGroupUpdate(ctx context.Context, ev models.Event) {
	if !c.acceptInvites.Load() || ev.GroupID == "" {
		return
	}
	joined, err := c.transport.AcceptInvite(ctx, ev.GroupID)
	if err != nil {
		c.errLog.LogRetryableError(err, "Failed to accept group invite")
		return
	}
	if !joined {
		return
	}

	c.ensurePolicy(ctx, ev.GroupID)
	LogWithContext(ctx, c.logger, logrus.Fields{"group_id": ev.GroupID}).Info("Joined group from invite")
	if err := c.transport.Send(ctx, ev.GroupID, constants.InviteGreeting); err != nil {
		c.errLog.LogRetryableError(err, "Failed to greet group")
	}
}

// reactionKey identifies a reaction event for the ledger
func reactionKey(ev models.Event) models.MessageKey {
	return models.MessageKey{Timestamp: ev.Timestamp, SenderID: "reaction:" + ev.SenderID, GroupID: ev.GroupID}
}

func (c *Collector) handleReaction(ctx context.Context, ev models.Event, result *CollectionResult, pending *[]pendingReaction) bool {
	if ev.Reaction == nil || !c.accept(ctx, ev) {
		return false
	}

	key := reactionKey(ev)
	if c.ledger.Seen(key) {
		result.Duplicates++
		return false
	}
	for _, p := range *pending {
		if p.key == key {
			return false
		}
	}

	optedOut, err := c.store.IsOptedOut(ctx, ev.GroupID, ev.SenderID)
	if err != nil {
		c.errLog.LogError(apperrors.NewStoreIntegrityError("check opt-out", err), "Skipping reaction")
		return false
	}
	if optedOut {
		c.ledger.Mark(key)
		return true
	}

	// Marked only once stored so a failed write is retried on redelivery.
	matched, err := c.putReaction(ctx, *ev.Reaction)
	if err != nil {
		return false
	}
	if !matched {
		*pending = append(*pending, pendingReaction{key: key, reaction: *ev.Reaction})
		return true
	}
	c.ledger.Mark(key)
	result.ReactionsStored++
	return true
}

func (c *Collector) putReaction(ctx context.Context, r models.Reaction) (bool, error) {
	unlock := c.locks.Lock(r.Target.GroupID)
	defer unlock()
	matched, err := c.store.PutReaction(ctx, r)
	if err != nil {
		c.errLog.LogError(apperrors.NewStoreIntegrityError("store reaction", err), "Failed to store reaction")
	}
	return matched, err
}

func (c *Collector) retryReactions(ctx context.Context, pending []pendingReaction, result *CollectionResult) []pendingReaction {
	remaining := pending[:0]
	for _, p := range pending {
		matched, err := c.putReaction(ctx, p.reaction)
		if err == nil && matched {
			c.ledger.Mark(p.key)
			result.ReactionsStored++
			continue
		}
		remaining = append(remaining, p)
	}
	return remaining
}
