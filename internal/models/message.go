package models

import (
	"fmt"
	"time"
)

// MessageKey is the identity of a group message. It is used for
// deduplication and natural ordering.
type MessageKey struct {
	Timestamp int64  `json:"timestamp"`
	SenderID  string `json:"sender_id"`
	GroupID   string `json:"group_id"`
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.GroupID, k.SenderID, k.Timestamp)
}

// Message is a collected group message. Timestamp is the Signal sent
// timestamp in milliseconds.
type Message struct {
	ID        int64      `db:"id" json:"id"`
	Timestamp int64      `db:"signal_timestamp" json:"timestamp"`
	SenderID  string     `db:"sender_id" json:"sender_id"`
	GroupID   string     `db:"group_id" json:"group_id"`
	Body      string     `db:"body" json:"body"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Reactions []Reaction `db:"-" json:"reactions,omitempty"`
}

// Key returns the identity key of the message.
func (m *Message) Key() MessageKey {
	return MessageKey{Timestamp: m.Timestamp, SenderID: m.SenderID, GroupID: m.GroupID}
}

// SentAt converts the Signal timestamp to a time.Time.
func (m *Message) SentAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Reaction is one reactor's emoji on a stored message. A later reaction by the
// same reactor replaces the earlier one.
type Reaction struct {
	Target    MessageKey `json:"target"`
	ReactorID string     `json:"reactor_id"`
	Emoji     string     `json:"emoji"`
	Timestamp int64      `json:"timestamp"`
	Remove    bool       `json:"remove,omitempty"`
}
