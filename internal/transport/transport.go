package transport

import (
	"context"
	"encoding/base64"
	"slices"
	"strings"
	"sync"
	"time"

	"sigsummary/internal/constants"
	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/models"
	"sigsummary/internal/privacy"
	"sigsummary/internal/retry"
	"sigsummary/pkg/circuitbreaker"
	"sigsummary/pkg/signal"
	"sigsummary/pkg/signal/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	groupRecipientPrefix = "group."
	groupUpdateType      = "UPDATE"
)

// Options tunes a Transport. Zero values fall back to defaults.
type Options struct {
	AdminCacheTTL time.Duration
	SendInterval  time.Duration
	Retry         models.RetryConfig
	// OnBreakerChange is forwarded to the send circuit breaker.
	OnBreakerChange func(name string, from, to circuitbreaker.State)
}

// Transport adapts signal-cli-rest-api to the engine: it parses envelopes into
// events, paces and retries sends, and caches group metadata.
type Transport struct {
	client     signal.Client
	selfNumber string
	logger     *logrus.Logger
	errLogger  *apperrors.Logger

	breaker *circuitbreaker.CircuitBreaker
	backoff retry.BackoffConfig
	limiter *rate.Limiter

	adminTTL time.Duration
	now      func() time.Time

	mu            sync.RWMutex
	groups        map[string]models.GroupInfo // by internal id
	recipients    map[string]string           // internal id -> send recipient
	groupsFetched time.Time
	numbers       map[string]string // sender id -> phone number
}

func New(client signal.Client, selfNumber string, opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.AdminCacheTTL <= 0 {
		opts.AdminCacheTTL = time.Duration(constants.DefaultAdminCacheTTLSec) * time.Second
	}
	if opts.SendInterval <= 0 {
		opts.SendInterval = time.Duration(constants.DefaultSendIntervalMs) * time.Millisecond
	}

	breaker := circuitbreaker.NewWithConfig(circuitbreaker.Config{
		Name:          "signal-send",
		MaxFailures:   5,
		Timeout:       30 * time.Second,
		OnStateChange: opts.OnBreakerChange,
		// Rejections by the API are the caller's problem, not an outage.
		IsFailure: apperrors.IsRetryable,
	}, logger)

	return &Transport{
		client:     client,
		selfNumber: selfNumber,
		logger:     logger,
		errLogger:  apperrors.FromLogrus(logger),
		breaker:    breaker,
		backoff:    retry.FromRetryConfig(opts.Retry, 3),
		limiter:    rate.NewLimiter(rate.Every(opts.SendInterval), 1),
		adminTTL:   opts.AdminCacheTTL,
		now:        time.Now,
		groups:     make(map[string]models.GroupInfo),
		recipients: make(map[string]string),
		numbers:    make(map[string]string),
	}
}

// Breaker exposes the send circuit breaker for status reporting
func (t *Transport) Breaker() *circuitbreaker.CircuitBreaker {
	return t.breaker
}

// Ping verifies the REST API is reachable
func (t *Transport) Ping(ctx context.Context) error {
	if err := t.client.InitializeDevice(ctx); err != nil {
		return apperrors.NewTransportError("about", "/v1/about", signal.StatusCode(err), err)
	}
	return nil
}

// Receive pulls pending envelopes. A partial batch is normal; callers loop.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]models.Event, error) {
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	raw, err := t.client.ReceiveMessages(ctx, seconds)
	if err != nil {
		return nil, apperrors.NewTransportError("receive", "/v1/receive", signal.StatusCode(err), err)
	}

	events := make([]models.Event, 0, len(raw))
	for _, msg := range raw {
		if ev, ok := t.parseEnvelope(msg.Envelope); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (t *Transport) parseEnvelope(env types.Envelope) (models.Event, bool) {
	content := env.Content()
	if content == nil {
		return models.Event{}, false
	}

	senderID := env.SenderID()
	number := env.SourceNumber
	if number == "" && strings.HasPrefix(env.Source, "+") {
		number = env.Source
	}
	if senderID != "" && number != "" && senderID != number {
		t.mu.Lock()
		t.numbers[senderID] = number
		t.mu.Unlock()
	}

	ev := models.Event{
		SenderID:     senderID,
		SenderNumber: number,
		Timestamp:    content.Timestamp,
		// Sync copies are written by a human on the primary device.
		FromSelf: env.DataMessage != nil && number != "" && number == t.selfNumber,
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = env.Timestamp
	}
	if content.GroupInfo != nil {
		ev.GroupID = content.GroupInfo.GroupID
	}

	if r := content.Reaction; r != nil {
		target := r.TargetAuthorUUID
		if target == "" {
			target = r.TargetAuthor
		}
		ev.Type = models.EventReaction
		ev.Reaction = &models.Reaction{
			Target:    models.MessageKey{Timestamp: r.TargetTimestamp, SenderID: target, GroupID: ev.GroupID},
			ReactorID: senderID,
			Emoji:     r.Emoji,
			Timestamp: ev.Timestamp,
			Remove:    r.IsRemove,
		}
		return ev, true
	}

	if content.Message == "" {
		if content.GroupInfo != nil && content.GroupInfo.Type == groupUpdateType && ev.GroupID != "" {
			ev.Type = models.EventGroupUpdate
			return ev, true
		}
		return models.Event{}, false
	}
	ev.Type = models.EventMessage
	ev.Body = content.Message
	expires := content.ExpiresInSeconds
	ev.ExpiresInSeconds = &expires
	return ev, true
}

// Send delivers text to a group, paced and retried on transient failures
func (t *Transport) Send(ctx context.Context, groupID, text string) error {
	recipient := t.recipient(groupID)

	op := func(ctx context.Context) error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		return t.breaker.Execute(ctx, func(ctx context.Context) error {
			_, err := t.client.SendMessage(ctx, recipient, text)
			if err != nil {
				return apperrors.NewTransportError("send", "/v2/send", signal.StatusCode(err), err)
			}
			return nil
		})
	}

	err := retry.NewBackoff(t.backoff).
		OnRetry(func(attempt int, err error, delay time.Duration) {
			t.errLogger.LogRetryableError(err, "Signal send failed, retrying", logrus.Fields{
				"attempt":  attempt,
				"delay":    delay,
				"group_id": privacy.MaskGroupID(groupID),
			})
		}).
		RetryWithPredicate(ctx, op, apperrors.IsRetryable)
	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			return apperrors.NewTransportError("send", "/v2/send", 0, err)
		}
		return err
	}
	return nil
}

// recipient maps an envelope group id to the id /v2/send expects
func (t *Transport) recipient(groupID string) string {
	if strings.HasPrefix(groupID, groupRecipientPrefix) {
		return groupID
	}
	t.mu.RLock()
	r, ok := t.recipients[groupID]
	t.mu.RUnlock()
	if ok {
		return r
	}
	return groupRecipientPrefix + base64.StdEncoding.EncodeToString([]byte(groupID))
}

// ListGroups returns the account's groups, refreshing the cache when stale
func (t *Transport) ListGroups(ctx context.Context) ([]models.GroupInfo, error) {
	if err := t.refreshGroups(ctx, false); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.GroupInfo, 0, len(t.groups))
	for _, g := range t.groups {
		out = append(out, g)
	}
	return out, nil
}

// GroupName returns the cached display name of a group, or "" when unknown
func (t *Transport) GroupName(ctx context.Context, groupID string) string {
	if err := t.refreshGroups(ctx, false); err != nil {
		t.logger.WithError(err).Debug("Could not refresh group names")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.groups[groupID].Name
}

func (t *Transport) refreshGroups(ctx context.Context, force bool) error {
	t.mu.RLock()
	fresh := !t.groupsFetched.IsZero() && t.now().Sub(t.groupsFetched) < t.adminTTL
	t.mu.RUnlock()
	if fresh && !force {
		return nil
	}

	raw, err := t.client.ListGroups(ctx)
	if err != nil {
		return apperrors.NewTransportError("list groups", "/v1/groups", signal.StatusCode(err), err)
	}

	groups := make(map[string]models.GroupInfo, len(raw))
	recipients := make(map[string]string, len(raw))
	for _, g := range raw {
		id := g.InternalID
		if id == "" {
			id = g.ID
		}
		groups[id] = models.GroupInfo{ID: id, Name: g.Name, Members: g.Members, Admins: g.Admins, PendingInvites: g.PendingInvites}
		if g.ID != "" {
			recipients[id] = g.ID
		}
	}

	t.mu.Lock()
	t.groups = groups
	t.recipients = recipients
	t.groupsFetched = t.now()
	t.mu.Unlock()
	return nil
}

// IsGroupAdmin checks the sender against the group's admin list. Errors fail
// closed: the caller must treat them as "not an admin".
func (t *Transport) IsGroupAdmin(ctx context.Context, groupID, senderID string) (bool, error) {
	if err := t.refreshGroups(ctx, false); err != nil {
		return false, err
	}

	t.mu.RLock()
	group, ok := t.groups[groupID]
	number := t.numbers[senderID]
	t.mu.RUnlock()

	if !ok {
		// Membership may have changed since the last fetch.
		if err := t.refreshGroups(ctx, true); err != nil {
			return false, err
		}
		t.mu.RLock()
		group, ok = t.groups[groupID]
		t.mu.RUnlock()
		if !ok {
			return false, apperrors.NewNotFoundError("group", privacy.MaskGroupID(groupID))
		}
	}

	for _, admin := range group.Admins {
		if admin == senderID || (number != "" && admin == number) {
			return true, nil
		}
	}
	return false, nil
}

// AcceptInvite joins groupID if this account is among its pending invites.
// The group list is always refetched since invites arrive between refreshes.
func (t *Transport) AcceptInvite(ctx context.Context, groupID string) (bool, error) {
	if err := t.refreshGroups(ctx, true); err != nil {
		return false, err
	}

	t.mu.RLock()
	group, ok := t.groups[groupID]
	t.mu.RUnlock()
	if !ok || !slices.Contains(group.PendingInvites, t.selfNumber) {
		return false, nil
	}

	recipient := t.recipient(groupID)
	if err := t.client.JoinGroup(ctx, recipient); err != nil {
		return false, apperrors.NewTransportError("join group", "/v1/groups/join", signal.StatusCode(err), err)
	}
	t.logger.WithField("group_id", privacy.MaskGroupID(groupID)).Info("Accepted group invite")

	if err := t.refreshGroups(ctx, true); err != nil {
		t.logger.WithError(err).Debug("Could not refresh groups after join")
	}
	return true, nil
}
