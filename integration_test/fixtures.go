package integration

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sigsummary/pkg/signal/types"
)

const (
	botNumber = "+15550000000"

	aliceUUID   = "6f9c1d2e-0a11-4a7b-9d3e-aaaaaaaaaaaa"
	aliceNumber = "+15550001001"
	bobUUID     = "6f9c1d2e-0a11-4a7b-9d3e-bbbbbbbbbbbb"
	bobNumber   = "+15550001002"

	// internal ids as carried in envelope groupInfo
	bookClubID = "Ym9va2NsdWItaW50ZXJuYWwtaWQ="
	digestID   = "ZGlnZXN0LWludGVybmFsLWlk"

	// a group the account has been invited to but not joined
	invitedID = "aW52aXRlZC1pbnRlcm5hbC1pZA=="

	bookClubName = "Book Club"
	digestName   = "Digest"
	invitedName  = "Hiking"
)

// recipientOf returns the /v2/send recipient of an internal group id
func recipientOf(internalID string) string {
	return "group." + base64.StdEncoding.EncodeToString([]byte(internalID))
}

// SentMessage is one POST /v2/send the fake server accepted
type SentMessage struct {
	Recipient string
	Message   string
}

// FakeSignal mimics the parts of signal-cli-rest-api the engine talks to.
// Envelopes queued with Enqueue are returned by the next receive call.
type FakeSignal struct {
	server *httptest.Server

	mu       sync.Mutex
	queue    []types.RestMessage
	groups   []types.Group
	sent     []SentMessage
	joined   []string
	failSend bool

	receives atomic.Int32
	// holdReceive makes receive wait out its timeout before answering
	holdReceive atomic.Bool
}

func NewFakeSignal(t *testing.T) *FakeSignal {
	t.Helper()
	f := &FakeSignal{
		groups: []types.Group{
			{Name: bookClubName, ID: recipientOf(bookClubID), InternalID: bookClubID,
				Members: []string{aliceNumber, bobNumber, botNumber}, Admins: []string{aliceNumber}},
			{Name: digestName, ID: recipientOf(digestID), InternalID: digestID,
				Members: []string{aliceNumber, botNumber}, Admins: []string{aliceNumber}},
			{Name: invitedName, ID: recipientOf(invitedID), InternalID: invitedID,
				Members: []string{aliceNumber}, Admins: []string{aliceNumber}, PendingInvites: []string{botNumber}},
		},
	}

	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *FakeSignal) URL() string { return f.server.URL }

func (f *FakeSignal) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/about":
		fmt.Fprint(w, `{"versions":["v1","v2"],"mode":"json-rpc","version":"0.92"}`)

	case strings.HasPrefix(r.URL.Path, "/v1/receive/"):
		f.receives.Add(1)
		if f.holdReceive.Load() {
			seconds, _ := strconv.Atoi(r.URL.Query().Get("timeout"))
			time.Sleep(time.Duration(seconds) * time.Second)
		}
		f.mu.Lock()
		batch := f.queue
		f.queue = nil
		f.mu.Unlock()
		if batch == nil {
			batch = []types.RestMessage{}
		}
		_ = json.NewEncoder(w).Encode(batch)

	case strings.HasPrefix(r.URL.Path, "/v1/groups/") && strings.HasSuffix(r.URL.Path, "/join") && r.Method == http.MethodPost:
		recipient := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/groups/"+botNumber+"/"), "/join")
		if !f.join(recipient) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"not invited"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case strings.HasPrefix(r.URL.Path, "/v1/groups/"):
		f.mu.Lock()
		groups := f.groups
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(groups)

	case r.URL.Path == "/v2/send" && r.Method == http.MethodPost:
		var req types.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		fail := f.failSend
		if !fail {
			for _, rcpt := range req.Recipients {
				f.sent = append(f.sent, SentMessage{Recipient: rcpt, Message: req.Message})
			}
		}
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"Failed to send message"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"timestamp":"1700000000000"}`)

	default:
		http.NotFound(w, r)
	}
}

// join moves the account from a group's pending invites to its members
func (f *FakeSignal) join(recipient string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	groups := make([]types.Group, len(f.groups))
	copy(groups, f.groups)
	for i, g := range groups {
		if g.ID != recipient || !slices.Contains(g.PendingInvites, botNumber) {
			continue
		}
		g.PendingInvites = slices.DeleteFunc(slices.Clone(g.PendingInvites), func(n string) bool { return n == botNumber })
		g.Members = append(slices.Clone(g.Members), botNumber)
		groups[i] = g
		f.groups = groups
		f.joined = append(f.joined, recipient)
		return true
	}
	return false
}

// Joined returns the recipients of every accepted join
func (f *FakeSignal) Joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined...)
}

// HoldReceive makes receive sleep for its timeout query before answering,
// as the REST API does when it long-polls
func (f *FakeSignal) HoldReceive(hold bool) {
	f.holdReceive.Store(hold)
}

// Enqueue makes envelopes available to the next receive
func (f *FakeSignal) Enqueue(envelopes ...types.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range envelopes {
		f.queue = append(f.queue, types.RestMessage{Envelope: env, Account: botNumber})
	}
}

// Sent returns every accepted send so far
func (f *FakeSignal) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// SentTo returns the texts sent to one group recipient
func (f *FakeSignal) SentTo(recipient string) []string {
	var out []string
	for _, s := range f.Sent() {
		if s.Recipient == recipient {
			out = append(out, s.Message)
		}
	}
	return out
}

// RejectSends makes /v2/send answer 400 until called with false
func (f *FakeSignal) RejectSends(reject bool) {
	f.mu.Lock()
	f.failSend = reject
	f.mu.Unlock()
}

// FakeOllama answers /api/chat with a fixed summary
type FakeOllama struct {
	server *httptest.Server
	reply  string
	calls  atomic.Int32
	// fail makes /api/chat answer 500
	fail atomic.Bool
}

func NewFakeOllama(t *testing.T, reply string) *FakeOllama {
	t.Helper()
	f := &FakeOllama{reply: reply}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, "Ollama is running")
		case "/api/chat":
			f.calls.Add(1)
			if f.fail.Load() {
				http.Error(w, `{"error":"model not loaded"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"model":   "llama3.2",
				"message": map[string]string{"role": "assistant", "content": f.reply},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *FakeOllama) URL() string { return f.server.URL }

func (f *FakeOllama) Calls() int { return int(f.calls.Load()) }

// Envelope builders

// GroupMessage builds a received group text from sender
func GroupMessage(senderUUID, senderNumber, groupID string, ts int64, body string) types.Envelope {
	return types.Envelope{
		Source:       senderNumber,
		SourceNumber: senderNumber,
		SourceUUID:   senderUUID,
		Timestamp:    ts,
		DataMessage: &types.RestDataMessage{
			Timestamp: ts,
			Message:   body,
			GroupInfo: &types.RestGroupInfo{GroupID: groupID, Type: "DELIVER"},
		},
	}
}

// DisappearingGroupMessage carries a disappearing-messages timer
func DisappearingGroupMessage(senderUUID, senderNumber, groupID string, ts int64, body string, expiresIn int) types.Envelope {
	env := GroupMessage(senderUUID, senderNumber, groupID, ts, body)
	env.DataMessage.ExpiresInSeconds = expiresIn
	return env
}

// DirectMessage builds a one-to-one text
func DirectMessage(senderUUID, senderNumber string, ts int64, body string) types.Envelope {
	return types.Envelope{
		Source:       senderNumber,
		SourceNumber: senderNumber,
		SourceUUID:   senderUUID,
		Timestamp:    ts,
		DataMessage:  &types.RestDataMessage{Timestamp: ts, Message: body},
	}
}

// SyncedGroupMessage is a message the account holder sent from another device
func SyncedGroupMessage(groupID string, ts int64, body string) types.Envelope {
	return types.Envelope{
		Source:       botNumber,
		SourceNumber: botNumber,
		Timestamp:    ts,
		SyncMessage: &types.RestSyncMessage{SentMessage: &types.RestSentMessage{
			Timestamp: ts,
			Message:   body,
			GroupInfo: &types.RestGroupInfo{GroupID: groupID},
		}},
	}
}

// GroupReaction reacts to the message (targetUUID, targetTS)
func GroupReaction(senderUUID, senderNumber, groupID string, ts int64, emoji, targetUUID string, targetTS int64) types.Envelope {
	return types.Envelope{
		Source:       senderNumber,
		SourceNumber: senderNumber,
		SourceUUID:   senderUUID,
		Timestamp:    ts,
		DataMessage: &types.RestDataMessage{
			Timestamp: ts,
			GroupInfo: &types.RestGroupInfo{GroupID: groupID},
			Reaction: &types.RestMessageReaction{
				Emoji:            emoji,
				TargetAuthorUUID: targetUUID,
				TargetTimestamp:  targetTS,
			},
		},
	}
}

// GroupUpdate is the envelope an invite or a membership change produces
func GroupUpdate(senderUUID, senderNumber, groupID string, ts int64) types.Envelope {
	return types.Envelope{
		Source:       senderNumber,
		SourceNumber: senderNumber,
		SourceUUID:   senderUUID,
		Timestamp:    ts,
		DataMessage: &types.RestDataMessage{
			Timestamp: ts,
			GroupInfo: &types.RestGroupInfo{GroupID: groupID, Type: "UPDATE"},
		},
	}
}

// ReceiptEnvelope carries no content and is ignored by the engine
func ReceiptEnvelope(senderNumber string, ts int64) types.Envelope {
	return types.Envelope{
		Source:         senderNumber,
		SourceNumber:   senderNumber,
		Timestamp:      ts,
		ReceiptMessage: map[string]interface{}{"isDelivery": true, "timestamps": []int64{ts}},
	}
}
