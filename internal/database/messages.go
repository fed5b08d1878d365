package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"sigsummary/internal/models"
)

type messageRow struct {
	ID        int64     `db:"id"`
	GroupID   string    `db:"group_id"`
	SenderID  string    `db:"sender_id"`
	Timestamp int64     `db:"signal_timestamp"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}

type reactionRow struct {
	MessageID int64  `db:"message_id"`
	ReactorID string `db:"reactor_id"`
	Emoji     string `db:"emoji"`
	ReactedAt int64  `db:"reacted_at"`
}

// PutMessage stores msg unless a message with the same identity key exists.
// It reports whether a row was inserted.
func (d *Database) PutMessage(ctx context.Context, msg *models.Message) (bool, error) {
	sender, err := d.encryptor.EncryptForLookup(msg.SenderID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt sender ID: %w", err)
	}
	body, err := d.encryptor.Encrypt(msg.Body)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt message body: %w", err)
	}

	var inserted bool
	err = withRetry(ctx, "save message", func(ctx context.Context) error {
		res, err := d.db.ExecContext(ctx, insertMessageQuery, msg.GroupID, sender, msg.Timestamp, body, d.now().UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		if inserted {
			msg.ID, _ = res.LastInsertId()
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return inserted, nil
}

// MessageExists reports whether a message with key is stored
func (d *Database) MessageExists(ctx context.Context, key models.MessageKey) (bool, error) {
	_, found, err := d.messageID(ctx, d.db, key)
	return found, err
}

func (d *Database) messageID(ctx context.Context, q sqlx.QueryerContext, key models.MessageKey) (int64, bool, error) {
	sender, err := d.encryptor.EncryptForLookup(key.SenderID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encrypt sender ID: %w", err)
	}

	var id int64
	err = sqlx.GetContext(ctx, q, &id, selectMessageIDQuery, key.GroupID, key.Timestamp, sender)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up message: %w", err)
	}
	return id, true, nil
}

// PutReaction applies a reaction to its target message. It returns false when
// the target is not stored (yet); the caller decides whether to retry later.
func (d *Database) PutReaction(ctx context.Context, r models.Reaction) (bool, error) {
	reactor, err := d.encryptor.EncryptForLookup(r.ReactorID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt reactor ID: %w", err)
	}

	var matched bool
	err = d.inTx(ctx, func(tx *sqlx.Tx) error {
		id, found, err := d.messageID(ctx, tx, r.Target)
		if err != nil || !found {
			return err
		}
		matched = true

		if r.Remove {
			_, err = tx.ExecContext(ctx, deleteReactionQuery, id, reactor)
		} else {
			_, err = tx.ExecContext(ctx, upsertReactionQuery, id, reactor, r.Emoji, r.Timestamp)
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to save reaction: %w", err)
	}

	return matched, nil
}

// QueryMessages returns the group's messages with from <= timestamp <= to,
// oldest first, with their reactions attached.
func (d *Database) QueryMessages(ctx context.Context, groupID string, from, to time.Time) ([]models.Message, error) {
	window := sq.And{
		sq.Eq{"m.group_id": groupID},
		sq.GtOrEq{"m.signal_timestamp": from.UnixMilli()},
		sq.LtOrEq{"m.signal_timestamp": to.UnixMilli()},
	}

	query, args, err := d.builder.
		Select("m.id", "m.group_id", "m.sender_id", "m.signal_timestamp", "m.body", "m.created_at").
		From("messages m").
		Where(window).
		OrderBy("m.signal_timestamp ASC", "m.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build message query: %w", err)
	}

	var rows []messageRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	query, args, err = d.builder.
		Select("r.message_id", "r.reactor_id", "r.emoji", "r.reacted_at").
		From("reactions r").
		Join("messages m ON m.id = r.message_id").
		Where(window).
		OrderBy("r.reacted_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reaction query: %w", err)
	}

	var reactions []reactionRow
	if err := d.db.SelectContext(ctx, &reactions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query reactions: %w", err)
	}

	messages := make([]models.Message, 0, len(rows))
	index := make(map[int64]int, len(rows))
	for _, row := range rows {
		msg, err := d.decryptMessage(row)
		if err != nil {
			return nil, err
		}
		index[row.ID] = len(messages)
		messages = append(messages, msg)
	}

	for _, rr := range reactions {
		i, ok := index[rr.MessageID]
		if !ok {
			continue
		}
		reactor, err := d.encryptor.Decrypt(rr.ReactorID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt reactor ID: %w", err)
		}
		messages[i].Reactions = append(messages[i].Reactions, models.Reaction{
			Target:    messages[i].Key(),
			ReactorID: reactor,
			Emoji:     rr.Emoji,
			Timestamp: rr.ReactedAt,
		})
	}

	return messages, nil
}

func (d *Database) decryptMessage(row messageRow) (models.Message, error) {
	sender, err := d.encryptor.Decrypt(row.SenderID)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to decrypt sender ID: %w", err)
	}
	body, err := d.encryptor.Decrypt(row.Body)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to decrypt message body: %w", err)
	}
	return models.Message{
		ID:        row.ID,
		Timestamp: row.Timestamp,
		SenderID:  sender,
		GroupID:   row.GroupID,
		Body:      body,
		CreatedAt: row.CreatedAt,
	}, nil
}

// CountMessages returns the number of stored messages for a group
func (d *Database) CountMessages(ctx context.Context, groupID string) (int, error) {
	var count int
	if err := d.db.GetContext(ctx, &count, countMessagesQuery, groupID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// GroupsWithMessages lists every group that has at least one stored message
func (d *Database) GroupsWithMessages(ctx context.Context) ([]string, error) {
	var groups []string
	if err := d.db.SelectContext(ctx, &groups, selectGroupsWithMessagesQuery); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// DeleteMessagesBefore removes the group's messages older than cutoff, and
// their reactions, in one transaction.
func (d *Database) DeleteMessagesBefore(ctx context.Context, groupID string, cutoff time.Time) (int64, error) {
	return d.deleteMessages(ctx, "purge expired messages", sq.And{
		sq.Eq{"group_id": groupID},
		sq.Lt{"signal_timestamp": cutoff.UnixMilli()},
	})
}

// DeleteGroupMessages removes every stored message of a group
func (d *Database) DeleteGroupMessages(ctx context.Context, groupID string) (int64, error) {
	return d.deleteMessages(ctx, "purge group messages", sq.Eq{"group_id": groupID})
}

// DeleteSenderMessages removes one sender's messages in one group
func (d *Database) DeleteSenderMessages(ctx context.Context, groupID, senderID string) (int64, error) {
	sender, err := d.encryptor.EncryptForLookup(senderID)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt sender ID: %w", err)
	}
	return d.deleteMessages(ctx, "purge sender messages", sq.Eq{"group_id": groupID, "sender_id": sender})
}

func (d *Database) deleteMessages(ctx context.Context, operation string, where sq.Sqlizer) (int64, error) {
	targets, targetArgs, err := d.builder.Select("id").From("messages").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s query: %w", operation, err)
	}
	deleteReactions, reactionArgs, err := d.builder.
		Delete("reactions").
		Where("message_id IN ("+targets+")", targetArgs...).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s query: %w", operation, err)
	}
	deleteMessages, messageArgs, err := d.builder.Delete("messages").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s query: %w", operation, err)
	}

	var deleted int64
	err = withRetry(ctx, operation, func(ctx context.Context) error {
		return d.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, deleteReactions, reactionArgs...); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, deleteMessages, messageArgs...)
			if err != nil {
				return err
			}
			deleted, err = res.RowsAffected()
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
