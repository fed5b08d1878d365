package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sigsummary/internal/models"
)

// GetGroupPolicy returns the stored policy, or nil when the group has none yet
func (d *Database) GetGroupPolicy(ctx context.Context, groupID string) (*models.GroupPolicy, error) {
	var policy models.GroupPolicy
	err := d.db.GetContext(ctx, &policy, selectGroupPolicyQuery, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group policy: %w", err)
	}
	return &policy, nil
}

// EnsureGroupPolicy creates the default policy for a group on first sight and
// returns the stored row.
func (d *Database) EnsureGroupPolicy(ctx context.Context, groupID string) (*models.GroupPolicy, error) {
	def := models.DefaultGroupPolicy(groupID)
	now := d.now().UTC()

	err := withRetry(ctx, "create group policy", func(ctx context.Context) error {
		_, err := d.db.ExecContext(ctx, insertDefaultGroupPolicyQuery, groupID, def.RetentionMode, def.PowerLevel, now, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	policy, err := d.GetGroupPolicy(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, fmt.Errorf("group policy missing after insert")
	}
	return policy, nil
}

// SaveGroupPolicy writes every mutable policy field
func (d *Database) SaveGroupPolicy(ctx context.Context, policy *models.GroupPolicy) error {
	now := d.now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now

	err := withRetry(ctx, "save group policy", func(ctx context.Context) error {
		_, err := d.db.NamedExecContext(ctx, upsertGroupPolicyQuery, policy)
		return err
	})
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("group policy rejected by store: %w", err)
		}
		return err
	}
	return nil
}

// SetSignalTimer stores the disappearing-messages timer last seen in a group.
// It reports whether the stored value changed.
func (d *Database) SetSignalTimer(ctx context.Context, groupID string, hours *int) (bool, error) {
	var changed bool
	err := withRetry(ctx, "update signal timer", func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx, updateSignalTimerQuery, hours, d.now().UTC(), groupID, hours)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// SetOptOut records or clears a sender's opt-out for a group. It reports
// whether the stored state changed.
func (d *Database) SetOptOut(ctx context.Context, groupID, senderID string, optedOut bool) (bool, error) {
	sender, err := d.encryptor.EncryptForLookup(senderID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt sender ID: %w", err)
	}

	var changed bool
	err = withRetry(ctx, "update opt-out", func(ctx context.Context) error {
		var res sql.Result
		var err error
		if optedOut {
			res, err = d.db.ExecContext(ctx, insertOptOutQuery, groupID, sender, d.now().UTC())
		} else {
			res, err = d.db.ExecContext(ctx, deleteOptOutQuery, groupID, sender)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// IsOptedOut reports whether a sender opted out in a group
func (d *Database) IsOptedOut(ctx context.Context, groupID, senderID string) (bool, error) {
	sender, err := d.encryptor.EncryptForLookup(senderID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt sender ID: %w", err)
	}

	var count int
	if err := d.db.GetContext(ctx, &count, selectOptOutQuery, groupID, sender); err != nil {
		return false, fmt.Errorf("failed to check opt-out: %w", err)
	}
	return count > 0, nil
}

// ClaimCommand records that the command at key has been handled. It returns
// false when an earlier delivery already claimed it.
func (d *Database) ClaimCommand(ctx context.Context, key models.MessageKey) (bool, error) {
	sender, err := d.encryptor.EncryptForLookup(key.SenderID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt sender ID: %w", err)
	}

	var claimed bool
	err = withRetry(ctx, "claim command", func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx, insertHandledCommandQuery, key.GroupID, sender, key.Timestamp, d.now().UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// DeleteHandledCommandsBefore forgets command claims older than cutoff
func (d *Database) DeleteHandledCommandsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "prune handled commands", func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx, deleteHandledCommandsQuery, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
