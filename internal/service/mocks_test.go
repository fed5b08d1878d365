package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sigsummary/internal/constants"
	"sigsummary/internal/database"
	"sigsummary/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockTransport mocks the calls tests assert on and keeps simple state for
// the rest
type mockTransport struct {
	mock.Mock

	mu      sync.Mutex
	sent    map[string][]string
	names   map[string]string
	invites map[string]bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		sent:    make(map[string][]string),
		names:   make(map[string]string),
		invites: make(map[string]bool),
	}
}

func (m *mockTransport) Receive(ctx context.Context, timeout time.Duration) ([]models.Event, error) {
	args := m.Called(ctx, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *mockTransport) Send(ctx context.Context, groupID, text string) error {
	m.mu.Lock()
	m.sent[groupID] = append(m.sent[groupID], text)
	m.mu.Unlock()
	return m.Called(ctx, groupID, text).Error(0)
}

func (m *mockTransport) ListGroups(ctx context.Context) ([]models.GroupInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GroupInfo), args.Error(1)
}

func (m *mockTransport) GroupName(ctx context.Context, groupID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names[groupID]
}

func (m *mockTransport) IsGroupAdmin(ctx context.Context, groupID, senderID string) (bool, error) {
	args := m.Called(ctx, groupID, senderID)
	return args.Bool(0), args.Error(1)
}

// AcceptInvite joins once per pending invite
func (m *mockTransport) AcceptInvite(ctx context.Context, groupID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.invites[groupID] {
		return false, nil
	}
	delete(m.invites, groupID)
	return true, nil
}

func (m *mockTransport) invite(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[groupID] = true
}

func (m *mockTransport) sentTo(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent[groupID]...)
}

func (m *mockTransport) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msgs := range m.sent {
		n += len(msgs)
	}
	return n
}

type mockSummarizer struct {
	mock.Mock
}

func (m *mockSummarizer) GenerateSummary(ctx context.Context, messages []models.Message, c models.SummaryConstraints) (string, error) {
	args := m.Called(ctx, messages, c)
	return args.String(0), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestStore(t *testing.T) *database.Database {
	t.Helper()
	t.Setenv(constants.EnvEnableEncryption, "false")

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storeMessage(t *testing.T, db *database.Database, group, sender string, at time.Time, body string) {
	t.Helper()
	_, err := db.PutMessage(context.Background(), &models.Message{
		GroupID:   group,
		SenderID:  sender,
		Timestamp: at.UnixMilli(),
		Body:      body,
	})
	require.NoError(t, err)
}

func groupEvent(group, sender string, ts int64, body string) models.Event {
	return models.Event{
		Type:      models.EventMessage,
		GroupID:   group,
		SenderID:  sender,
		Timestamp: ts,
		Body:      body,
	}
}

func reactionEvent(group, reactor string, ts int64, target models.MessageKey, emoji string) models.Event {
	return models.Event{
		Type:      models.EventReaction,
		GroupID:   group,
		SenderID:  reactor,
		Timestamp: ts,
		Reaction: &models.Reaction{
			Target:    target,
			ReactorID: reactor,
			Emoji:     emoji,
			Timestamp: ts,
		},
	}
}

// setSignalTimer stores a disappearing timer the way the collector does
func setSignalTimer(t *testing.T, db *database.Database, group string, seconds int) {
	t.Helper()
	ctx := context.Background()
	_, err := db.EnsureGroupPolicy(ctx, group)
	require.NoError(t, err)
	_, err = db.SetSignalTimer(ctx, group, models.TimerHours(seconds))
	require.NoError(t, err)
}

func intPtr(v int) *int { return &v }
