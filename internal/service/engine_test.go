package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sigsummary/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEngine_StartStatusStop(t *testing.T) {
	db := newTestStore(t)
	transport := newMockTransport()
	transport.On("Receive", mock.Anything, mock.Anything).Return(nil, nil)

	cfg := &models.Config{}
	cfg.Collector.PollIntervalSec = 3600
	cfg.Collector.LedgerSize = 50
	cfg.Retention.DefaultHours = 24

	engine := NewEngine(cfg, db, transport, &mockSummarizer{}, nil, testLogger())
	require.NoError(t, engine.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return engine.Status().LastCollection != nil
	}, 2*time.Second, 10*time.Millisecond)

	st := engine.Status()
	assert.True(t, st.PollerRunning)
	assert.True(t, st.SchedulerUp)
	assert.Equal(t, 24, st.DefaultHours)
	assert.False(t, st.StartedAt.IsZero())

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"default_retention_hours":24`)

	engine.Stop()
	st = engine.Status()
	assert.False(t, st.PollerRunning)
	assert.False(t, st.SchedulerUp)
}

func TestEngine_SharesLocksAndLedger(t *testing.T) {
	db := newTestStore(t)
	engine := NewEngine(&models.Config{}, db, newMockTransport(), &mockSummarizer{}, nil, testLogger())

	assert.Same(t, engine.Locks, engine.Sweeper.locks)
	assert.Same(t, engine.Locks, engine.Dispatcher.locks)
	assert.Same(t, engine.Locks, engine.Collector.locks)
	assert.Same(t, engine.Ledger, engine.Collector.ledger)
	assert.Same(t, engine.Sweeper, engine.Dispatcher.sweeper)
}
