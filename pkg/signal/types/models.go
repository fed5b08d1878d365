package types

import (
	"encoding/json"
	"strconv"
)

// FlexibleInt64 can unmarshal both string and int64 JSON values
type FlexibleInt64 int64

func (f *FlexibleInt64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = FlexibleInt64(i)
		return nil
	}

	var i int64
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	*f = FlexibleInt64(i)
	return nil
}

func (f FlexibleInt64) Int64() int64 {
	return int64(f)
}

// SendMessageRequest is the body of POST /v2/send
type SendMessageRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
	TextMode   string   `json:"text_mode,omitempty"` // "normal" or "styled"
}

type SendMessageResponse struct {
	Timestamp int64 `json:"timestamp"`
}

type SendResponse struct {
	Timestamp FlexibleInt64 `json:"timestamp"`
}

type AboutResponse struct {
	Versions     []string            `json:"versions"`
	Build        int                 `json:"build"`
	Mode         string              `json:"mode"`
	Version      string              `json:"version"`
	Capabilities map[string][]string `json:"capabilities"`
}

// Group is one entry of GET /v1/groups/{number}. ID is the send recipient
// ("group.<base64>"), InternalID is what envelopes carry in groupInfo.
type Group struct {
	Name           string   `json:"name"`
	ID             string   `json:"id"`
	InternalID     string   `json:"internal_id"`
	Members        []string `json:"members"`
	Admins         []string `json:"admins"`
	PendingInvites []string `json:"pending_invites,omitempty"`
	Blocked        bool     `json:"blocked"`
}

// RestGroupInfo represents group information in a message
type RestGroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type,omitempty"`
}

type RestMessageReaction struct {
	Emoji            string `json:"emoji"`
	TargetAuthor     string `json:"targetAuthor"`
	TargetAuthorUUID string `json:"targetAuthorUuid,omitempty"`
	TargetTimestamp  int64  `json:"targetSentTimestamp"`
	IsRemove         bool   `json:"isRemove"`
}

// RestDataMessage represents the data message content in Signal messages
type RestDataMessage struct {
	Timestamp        int64                `json:"timestamp"`
	Message          string               `json:"message"`
	ExpiresInSeconds int                  `json:"expiresInSeconds"`
	GroupInfo        *RestGroupInfo       `json:"groupInfo,omitempty"`
	Reaction         *RestMessageReaction `json:"reaction,omitempty"`
	RemoteDelete     *struct {
		Timestamp int64 `json:"timestamp"`
	} `json:"remoteDelete,omitempty"`
}

// RestSentMessage represents a message sent by the account on another device
type RestSentMessage struct {
	Destination       string               `json:"destination,omitempty"`
	DestinationNumber string               `json:"destinationNumber,omitempty"`
	DestinationUUID   string               `json:"destinationUuid,omitempty"`
	Timestamp         int64                `json:"timestamp"`
	Message           string               `json:"message"`
	ExpiresInSeconds  int                  `json:"expiresInSeconds,omitempty"`
	GroupInfo         *RestGroupInfo       `json:"groupInfo,omitempty"`
	Reaction          *RestMessageReaction `json:"reaction,omitempty"`
}

// AsDataMessage lets sync copies flow through the same path as received messages
func (s *RestSentMessage) AsDataMessage() *RestDataMessage {
	if s == nil {
		return nil
	}
	return &RestDataMessage{
		Timestamp:        s.Timestamp,
		Message:          s.Message,
		ExpiresInSeconds: s.ExpiresInSeconds,
		GroupInfo:        s.GroupInfo,
		Reaction:         s.Reaction,
	}
}

// RestSyncMessage represents a sync message (messages sent by the user on another device)
type RestSyncMessage struct {
	SentMessage *RestSentMessage `json:"sentMessage,omitempty"`
}

type Envelope struct {
	Source         string           `json:"source"`
	SourceNumber   string           `json:"sourceNumber"`
	SourceUUID     string           `json:"sourceUuid"`
	SourceName     string           `json:"sourceName"`
	Timestamp      int64            `json:"timestamp"`
	DataMessage    *RestDataMessage `json:"dataMessage,omitempty"`
	SyncMessage    *RestSyncMessage `json:"syncMessage,omitempty"`
	ReceiptMessage interface{}      `json:"receiptMessage,omitempty"`
	TypingMessage  interface{}      `json:"typingMessage,omitempty"`
}

// SenderID prefers the stable ACI over the phone number
func (e Envelope) SenderID() string {
	if e.SourceUUID != "" {
		return e.SourceUUID
	}
	if e.SourceNumber != "" {
		return e.SourceNumber
	}
	return e.Source
}

// Content returns the data message, or the sync sent message in its place
func (e Envelope) Content() *RestDataMessage {
	if e.DataMessage != nil {
		return e.DataMessage
	}
	if e.SyncMessage != nil {
		return e.SyncMessage.SentMessage.AsDataMessage()
	}
	return nil
}

// RestMessage is one element of GET /v1/receive/{number}
type RestMessage struct {
	Envelope Envelope `json:"envelope"`
	Account  string   `json:"account"`
}
