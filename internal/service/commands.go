package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sigsummary/internal/constants"
	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/metrics"
	"sigsummary/internal/models"
	"sigsummary/internal/tracing"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	replyAdminOnly      = "🔒 This command is admin-only. Ask a room admin to run it."
	replyPowerDenied    = "🔒 Nice try! Only admins can change power levels."
	replyNoUserID       = "Unable to process - user ID not available."
	replyRetentionRange = "❌ Use 1-168 hours or 'auto'"
	replyPurgeModeUsage = "Usage: !purge-mode [on|off]"

	helpText = `📖 Commands

!help - This help
!status - Bot status
!summary [hrs] [detail] - Generate summary (detail = verbose mode)
!opt-out - Stop collecting your messages
!opt-in - Resume collecting your messages
!retention [hours|auto] - View/set retention 🔒
!power [admins|everyone] - View/set permissions 🔒
!purge-mode [on|off] - Keep/delete messages after summary 🔒
!!!purge - Delete all messages 🔒

🔒 = Admin-only`
)

type permission int

const (
	permOpen permission = iota
	// permAdmin is waived when the group's power level is everyone
	permAdmin
	permAlwaysAdmin
)

type commandRequest struct {
	event  models.Event
	name   string
	args   []string
	policy *models.GroupPolicy
}

type commandHandler func(ctx context.Context, req *commandRequest) (string, error)

type command struct {
	class func(args []string) permission
	// accepts rejects argument lists the command does not take; such text
	// is ordinary chat
	accepts func(args []string) bool
	denied  string
	// unlocked commands run without holding the group lock
	unlocked bool
	run      commandHandler
}

// Dispatcher executes in-chat commands. Text that does not start with a known
// command name is left for the collector to store.
type Dispatcher struct {
	store       Store
	transport   Transport
	summarizer  Summarizer
	resolver    *RetentionResolver
	sweeper     *Sweeper
	locks       *GroupLocks
	minMessages int
	logger      *logrus.Logger
	errLog      *apperrors.Logger
	now         func() time.Time
	commands    map[string]command
}

func NewDispatcher(store Store, transport Transport, summarizer Summarizer, resolver *RetentionResolver, sweeper *Sweeper, locks *GroupLocks, minMessages int, logger *logrus.Logger) *Dispatcher {
	if minMessages <= 0 {
		minMessages = constants.DefaultMinSummaryMessages
	}
	d := &Dispatcher{
		store:       store,
		transport:   transport,
		summarizer:  summarizer,
		resolver:    resolver,
		sweeper:     sweeper,
		locks:       locks,
		minMessages: minMessages,
		logger:      logger,
		errLog:      apperrors.FromLogrus(logger),
		now:         time.Now,
	}

	open := func([]string) permission { return permOpen }
	adminWithArgs := func(args []string) permission {
		if len(args) == 0 {
			return permOpen
		}
		return permAdmin
	}

	bare := maxArgs(0)
	single := maxArgs(1)

	d.commands = map[string]command{
		"!help":       {class: open, accepts: bare, run: d.help},
		"!status":     {class: open, accepts: bare, run: d.status},
		"!summary":    {class: open, accepts: summaryArgs, run: d.summary, unlocked: true},
		"!opt-out":    {class: open, accepts: bare, run: d.optOut},
		"!opt-in":     {class: open, accepts: bare, run: d.optIn},
		"!retention":  {class: adminWithArgs, accepts: single, run: d.retention},
		"!purge-mode": {class: adminWithArgs, accepts: single, run: d.purgeMode},
		"!power": {
			class: func(args []string) permission {
				if len(args) == 0 {
					return permOpen
				}
				return permAlwaysAdmin
			},
			accepts: single,
			denied:  replyPowerDenied,
			run:     d.power,
		},
		"!!!purge": {class: func([]string) permission { return permAdmin }, accepts: bare, run: d.purge},
	}
	return d
}

func maxArgs(n int) func([]string) bool {
	return func(args []string) bool { return len(args) <= n }
}

// summaryArgs takes an hour count and the "detail" flag, in either order
func summaryArgs(args []string) bool {
	if len(args) > 2 {
		return false
	}
	var hours, detail bool
	for _, arg := range args {
		switch {
		case arg == "detail" && !detail:
			detail = true
		case !hours && isInteger(arg):
			hours = true
		default:
			return false
		}
	}
	return true
}

func isInteger(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// ParseCommand splits chat text into a command name and its arguments. ok is
// false when the text does not start with "!".
func ParseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

// IsCommand reports whether text is a known command with arguments it takes
func (d *Dispatcher) IsCommand(text string) bool {
	_, _, _, ok := d.lookup(text)
	return ok
}

func (d *Dispatcher) lookup(text string) (name string, cmd command, args []string, ok bool) {
	name, args, ok = ParseCommand(text)
	if !ok {
		return "", command{}, nil, false
	}
	cmd, known := d.commands[name]
	if !known || !cmd.accepts(args) {
		return "", command{}, nil, false
	}
	return name, cmd, args, true
}

// Dispatch runs the command in ev, if any, and replies in the group. handled
// is false for text that is not a known command. A denied command returns a
// PERMISSION_DENIED error after replying.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) (handled bool, err error) {
	if ev.Type != models.EventMessage || !ev.IsGroup() {
		return false, nil
	}
	name, cmd, args, ok := d.lookup(ev.Body)
	if !ok {
		return false, nil
	}

	ctx, end := tracing.StartOperation(ctx, "commands.dispatch", attribute.String("command", name))
	defer func() { end(err) }()

	log := LogWithContext(ctx, d.logger, logrus.Fields{
		"command":  name,
		"group_id": ev.GroupID,
		"sender":   ev.SenderID,
	})
	log.Info("Processing command")

	reply, outcome, err := d.execute(ctx, cmd, &commandRequest{event: ev, name: name, args: args})
	metrics.RecordCommand(name, outcome)

	if reply != "" {
		if sendErr := sendParts(ctx, d.transport, ev.GroupID, reply); sendErr != nil {
			d.errLog.LogRetryableError(sendErr, "Failed to send command reply", log.Data)
			if err == nil {
				err = sendErr
			}
		}
	}
	return true, err
}

func (d *Dispatcher) execute(ctx context.Context, cmd command, req *commandRequest) (reply, outcome string, err error) {
	if !cmd.unlocked {
		unlock := d.locks.Lock(req.event.GroupID)
		defer unlock()
	}

	policy, err := d.store.EnsureGroupPolicy(ctx, req.event.GroupID)
	if err != nil {
		err = apperrors.NewStoreIntegrityError("load group policy", err)
		return apperrors.GetUserMessage(err), "error", err
	}
	req.policy = policy

	if !d.authorized(ctx, cmd.class(req.args), req) {
		denied := cmd.denied
		if denied == "" {
			denied = replyAdminOnly
		}
		return denied, "denied", apperrors.NewPermissionDeniedError(req.name)
	}

	reply, err = cmd.run(ctx, req)
	if err != nil {
		if reply == "" {
			reply = apperrors.GetUserMessage(err)
		}
		if apperrors.HasCode(err, apperrors.ErrCodePolicyConflict) {
			return reply, "rejected", err
		}
		return reply, "error", err
	}
	return reply, "ok", nil
}

// authorized fails closed when the admin list cannot be fetched
func (d *Dispatcher) authorized(ctx context.Context, class permission, req *commandRequest) bool {
	switch class {
	case permOpen:
		return true
	case permAdmin:
		if req.policy.PowerLevel == models.PowerLevelEveryone {
			return true
		}
	}

	if req.event.SenderID == "" {
		return false
	}
	isAdmin, err := d.transport.IsGroupAdmin(ctx, req.event.GroupID, req.event.SenderID)
	if err != nil {
		d.errLog.LogWarn(err, "Admin check failed, denying command",
			LogWithContext(ctx, d.logger, logrus.Fields{"command": req.name, "group_id": req.event.GroupID}).Data)
		return false
	}
	return isAdmin
}

func (d *Dispatcher) help(context.Context, *commandRequest) (string, error) {
	return helpText, nil
}

func (d *Dispatcher) status(ctx context.Context, req *commandRequest) (string, error) {
	groupID := req.event.GroupID
	count, err := d.store.CountMessages(ctx, groupID)
	if err != nil {
		return "", apperrors.NewStoreIntegrityError("count messages", err)
	}
	hours, source, err := d.resolver.ResolveRetention(ctx, groupID)
	if err != nil {
		return "", apperrors.NewStoreIntegrityError("resolve retention", err)
	}

	return fmt.Sprintf("📊 Status\n\n✅ Service: Active\n💬 Messages: %s stored\n⏰ Retention: %d hours (%s)\n⚡ Power: %s\n🗑️ Purge after summary: %s",
		humanize.Comma(int64(count)), hours, source, powerLabel(req.policy.PowerLevel), onOff(req.policy.PurgeOnSummary)), nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func powerLabel(level models.PowerLevel) string {
	if level == models.PowerLevelEveryone {
		return "everyone"
	}
	return "admins only"
}

func (d *Dispatcher) summary(ctx context.Context, req *commandRequest) (string, error) {
	groupID := req.event.GroupID
	hours, _, err := d.resolver.ResolveRetention(ctx, groupID)
	if err != nil {
		return "", apperrors.NewStoreIntegrityError("resolve retention", err)
	}
	detail := false
	for _, arg := range req.args {
		if arg == "detail" {
			detail = true
			continue
		}
		if n, convErr := strconv.Atoi(arg); convErr == nil {
			hours = n
		}
	}
	if hours < constants.MinRetentionHours {
		hours = constants.MinRetentionHours
	}
	if hours > constants.MaxRetentionHours {
		hours = constants.MaxRetentionHours
	}

	mode := ""
	if detail {
		mode = " (detailed)"
	}
	if err := d.transport.Send(ctx, groupID, fmt.Sprintf("Generating summary for the last %d hours%s...", hours, mode)); err != nil {
		d.errLog.LogRetryableError(err, "Failed to send summary acknowledgement")
	}

	now := d.now()
	messages, err := d.store.QueryMessages(ctx, groupID, now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		return "", apperrors.NewStoreIntegrityError("query window", err)
	}
	if len(messages) == 0 {
		return fmt.Sprintf("No messages found in the last %d hours.", hours), nil
	}
	if len(messages) < d.minMessages {
		return fmt.Sprintf("Only %d message(s) in the last %d hours. Need at least %d for a meaningful summary.",
			len(messages), hours, d.minMessages), nil
	}

	text, err := d.summarizer.GenerateSummary(ctx, messages, models.DefaultSummaryConstraints(hours, detail))
	if err != nil {
		return "", err
	}

	if req.policy.PurgeOnSummary {
		purged, err := d.sweeper.PurgeSummarized(ctx, groupID, now)
		if err != nil {
			d.errLog.LogError(err, "Failed to purge summarized messages")
		} else {
			LogWithContext(ctx, d.logger, logrus.Fields{"group_id": groupID, "deleted": purged}).Info("Purged messages after summary")
		}
	}
	return FormatSummary(d.transport.GroupName(ctx, groupID), hours, messages, text), nil
}

func (d *Dispatcher) optOut(ctx context.Context, req *commandRequest) (string, error) {
	ev := req.event
	if ev.SenderID == "" {
		return replyNoUserID, nil
	}
	if _, err := d.store.SetOptOut(ctx, ev.GroupID, ev.SenderID, true); err != nil {
		return "", apperrors.NewStoreIntegrityError("set opt-out", err)
	}
	deleted, err := d.sweeper.purgeSender(ctx, ev.GroupID, ev.SenderID)
	if err != nil {
		return "", err
	}
	if deleted > 0 {
		return fmt.Sprintf("Opted out. %d messages deleted.", deleted), nil
	}
	return "Opted out. Your messages will no longer be stored.", nil
}

func (d *Dispatcher) optIn(ctx context.Context, req *commandRequest) (string, error) {
	ev := req.event
	if ev.SenderID == "" {
		return replyNoUserID, nil
	}
	changed, err := d.store.SetOptOut(ctx, ev.GroupID, ev.SenderID, false)
	if err != nil {
		return "", apperrors.NewStoreIntegrityError("clear opt-out", err)
	}
	if !changed {
		return "Already opted in.", nil
	}
	return "Opted in. Your messages will now be collected.", nil
}

func (d *Dispatcher) retention(ctx context.Context, req *commandRequest) (string, error) {
	groupID := req.event.GroupID
	if len(req.args) == 0 {
		hours, source, err := d.resolver.ResolveRetention(ctx, groupID)
		if err != nil {
			return "", apperrors.NewStoreIntegrityError("resolve retention", err)
		}
		return fmt.Sprintf("⏰ Retention: %dh (%s)\nSet: !retention [hours] or !retention auto", hours, source), nil
	}

	policy := *req.policy
	arg := req.args[0]
	switch arg {
	case "auto", "signal":
		policy.RetentionOverrideHours = nil
		policy.RetentionMode = models.RetentionModeSignalSynced
		if err := d.store.SaveGroupPolicy(ctx, &policy); err != nil {
			return "", apperrors.NewStoreIntegrityError("save group policy", err)
		}
		hours, _, err := d.resolver.ResolveRetention(ctx, groupID)
		if err != nil {
			return "", apperrors.NewStoreIntegrityError("resolve retention", err)
		}
		return fmt.Sprintf("✅ Auto mode: %dh\nSyncs with Signal's disappearing messages", hours), nil
	}

	hours, err := strconv.Atoi(arg)
	if err != nil || hours < constants.MinRetentionHours || hours > constants.MaxRetentionHours {
		return "", apperrors.NewPolicyConflictError("retention", arg, replyRetentionRange)
	}
	policy.RetentionOverrideHours = &hours
	policy.RetentionMode = models.RetentionModeFixed
	if err := d.store.SaveGroupPolicy(ctx, &policy); err != nil {
		return "", apperrors.NewStoreIntegrityError("save group policy", err)
	}
	return fmt.Sprintf("✅ Fixed: %dh\nWon't change with Signal settings", hours), nil
}

func (d *Dispatcher) power(ctx context.Context, req *commandRequest) (string, error) {
	if len(req.args) == 0 {
		if req.policy.PowerLevel == models.PowerLevelEveryone {
			return "⚡ Power Level: EVERYONE\n\nAll room members can change settings. Democracy reigns!", nil
		}
		return "⚡ Power Level: ADMINS ONLY\n\nOnly room admins can change settings. Regular members can view but not modify.", nil
	}

	policy := *req.policy
	var reply string
	switch req.args[0] {
	case "admins":
		policy.PowerLevel = models.PowerLevelAdminsOnly
		reply = "⚡ Power Level: ADMINS ONLY\n\n🏰 The castle gates are locked! Only admins hold the keys now."
	case "everyone":
		policy.PowerLevel = models.PowerLevelEveryone
		reply = "⚡ Power Level: EVERYONE\n\n🎉 Power to the people! All members can now change settings."
	default:
		return "", apperrors.NewPolicyConflictError("power", req.args[0], "Usage: !power [admins|everyone]")
	}
	if err := d.store.SaveGroupPolicy(ctx, &policy); err != nil {
		return "", apperrors.NewStoreIntegrityError("save group policy", err)
	}
	return reply, nil
}

func (d *Dispatcher) purgeMode(ctx context.Context, req *commandRequest) (string, error) {
	if len(req.args) == 0 {
		if req.policy.PurgeOnSummary {
			return "🗑️ Purge Mode: ON\n\nMessages are deleted immediately after !summary.", nil
		}
		return "🗑️ Purge Mode: OFF\n\nMessages are kept until retention period expires.", nil
	}

	policy := *req.policy
	var reply string
	switch req.args[0] {
	case "on":
		policy.PurgeOnSummary = true
		reply = "🗑️ Purge Mode: ON\n\nMessages will be deleted immediately after !summary."
	case "off":
		policy.PurgeOnSummary = false
		reply = "🗑️ Purge Mode: OFF\n\nMessages will be kept until retention period expires.\nRun multiple summaries from the same messages!"
	default:
		return "", apperrors.NewPolicyConflictError("purge-mode", req.args[0], replyPurgeModeUsage)
	}
	if err := d.store.SaveGroupPolicy(ctx, &policy); err != nil {
		return "", apperrors.NewStoreIntegrityError("save group policy", err)
	}
	return reply, nil
}

func (d *Dispatcher) purge(ctx context.Context, req *commandRequest) (string, error) {
	deleted, err := d.sweeper.purgeGroup(ctx, req.event.GroupID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Purged %d stored messages.", deleted), nil
}
