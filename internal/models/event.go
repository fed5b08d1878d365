package models

// EventType distinguishes the items a transport receive can yield
type EventType string

const (
	EventMessage  EventType = "message"
	EventReaction EventType = "reaction"
	// EventGroupUpdate is a membership or settings change, including an
	// invite of this account
	EventGroupUpdate EventType = "group_update"
)

// Event is one received item after envelope parsing. GroupID is empty for
// direct messages. ExpiresInSeconds is the disappearing-messages timer the
// sender's client attached, or nil when the envelope carried none.
type Event struct {
	Type             EventType
	GroupID          string
	SenderID         string
	SenderNumber     string
	Timestamp        int64
	Body             string
	Reaction         *Reaction
	ExpiresInSeconds *int
	FromSelf         bool
}

// Key returns the identity key of a message event
func (e Event) Key() MessageKey {
	return MessageKey{Timestamp: e.Timestamp, SenderID: e.SenderID, GroupID: e.GroupID}
}

// IsGroup reports whether the event belongs to a group conversation
func (e Event) IsGroup() bool {
	return e.GroupID != ""
}

// Message converts a message event to a storable Message
func (e Event) Message() *Message {
	return &Message{
		Timestamp: e.Timestamp,
		SenderID:  e.SenderID,
		GroupID:   e.GroupID,
		Body:      e.Body,
	}
}
