package transport

import (
	"context"

	"sigsummary/pkg/signal/types"

	"github.com/stretchr/testify/mock"
)

type mockSignalClient struct {
	mock.Mock
}

func (m *mockSignalClient) SendMessage(ctx context.Context, recipient, message string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, recipient, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockSignalClient) ReceiveMessages(ctx context.Context, timeoutSeconds int) ([]types.RestMessage, error) {
	args := m.Called(ctx, timeoutSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.RestMessage), args.Error(1)
}

func (m *mockSignalClient) ListGroups(ctx context.Context) ([]types.Group, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Group), args.Error(1)
}

func (m *mockSignalClient) InitializeDevice(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockSignalClient) JoinGroup(ctx context.Context, groupID string) error {
	args := m.Called(ctx, groupID)
	return args.Error(0)
}
