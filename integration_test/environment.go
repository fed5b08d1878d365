package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"sigsummary/internal/config"
	"sigsummary/internal/constants"
	"sigsummary/internal/database"
	"sigsummary/internal/models"
	"sigsummary/internal/service"
	"sigsummary/internal/summarizer"
	"sigsummary/internal/transport"
	"sigsummary/pkg/ollama"
	signalapi "sigsummary/pkg/signal"
	"sigsummary/pkg/signal/types"
)

const fakeSummary = "Alice proposed moving the meetup to Friday. Bob agreed and will book the room."

// TestEnvironment runs the real engine against fake Signal and Ollama
// servers and a SQLite database in a temp dir
type TestEnvironment struct {
	t *testing.T

	Signal *FakeSignal
	Ollama *FakeOllama
	Config *models.Config
	DB     *database.Database
	Engine *service.Engine

	transport *transport.Transport
}

// EnvOption adjusts the generated config before it is loaded
type EnvOption func(fields map[string]string)

// WithDefaultRetention sets retention.default_hours
func WithDefaultRetention(hours int) EnvOption {
	return func(fields map[string]string) { fields["default_hours"] = fmt.Sprint(hours) }
}

// WithDryRun enables global dry-run
func WithDryRun() EnvOption {
	return func(fields map[string]string) { fields["dry_run"] = "true" }
}

func NewTestEnvironment(t *testing.T, opts ...EnvOption) *TestEnvironment {
	t.Helper()
	isolateEnvironment(t)

	env := &TestEnvironment{
		t:      t,
		Signal: NewFakeSignal(t),
		Ollama: NewFakeOllama(t, fakeSummary),
	}
	env.loadConfig(opts)
	env.openDatabase()
	env.buildEngine()
	return env
}

// isolateEnvironment blanks every override the config loader honours
func isolateEnvironment(t *testing.T) {
	for _, key := range []string{
		"SIGNAL_RPC_URL", "SIGNAL_PHONE_NUMBER", "SIGNAL_AUTH_TOKEN", "DB_PATH", "OLLAMA_HOST",
		"OLLAMA_MODEL", "LOG_LEVEL", "DEFAULT_RETENTION_HOURS", "PORT", "DRY_RUN", "ENV", "AUTO_ACCEPT_INVITES",
	} {
		t.Setenv(constants.EnvPrefix+key, "")
	}
	t.Setenv(constants.EnvEnableEncryption, "false")
}

func (env *TestEnvironment) loadConfig(opts []EnvOption) {
	fields := map[string]string{"default_hours": "48", "dry_run": "false"}
	for _, opt := range opts {
		opt(fields)
	}

	dir := env.t.TempDir()
	raw := fmt.Sprintf(`{
		"signal": {"rpc_url": %q, "phone_number": %q, "send_interval_ms": 1, "http_timeout_sec": 5},
		"database": {"path": %q},
		"collector": {"poll_interval_sec": 3600, "max_attempts": 3, "attempt_timeout_sec": 2},
		"retention": {"default_hours": %s, "summary_run_hours": 720},
		"summarizer": {"host": %q, "model": "llama3.2", "timeout_sec": 10, "min_messages": 3},
		"retry": {"initial_backoff_ms": 5, "max_backoff_ms": 10, "max_attempts": 2},
		"log_level": "error",
		"dry_run": %s
	}`, env.Signal.URL(), botNumber, filepath.Join(dir, "sigsummary.db"),
		fields["default_hours"], env.Ollama.URL(), fields["dry_run"])

	path := filepath.Join(dir, "config.json")
	require.NoError(env.t, os.WriteFile(path, []byte(raw), 0600))

	cfg, err := config.LoadConfig(path)
	require.NoError(env.t, err)
	env.Config = cfg
}

func (env *TestEnvironment) openDatabase() {
	db, err := database.New(env.Config.Database.Path)
	require.NoError(env.t, err)
	env.DB = db
	env.t.Cleanup(func() { _ = db.Close() })
}

func (env *TestEnvironment) buildEngine() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	// long enough for a held receive plus the collector's deadline slack
	httpClient := &http.Client{
		Timeout: time.Duration(env.Config.Collector.AttemptTimeoutSec+constants.ReceiveDeadlineSlackSec) * time.Second,
	}
	client := signalapi.NewClientWithLogger(env.Config.Signal.RPCURL, "", env.Config.Signal.PhoneNumber, httpClient, logger)
	env.transport = transport.New(client, env.Config.Signal.PhoneNumber, transport.Options{
		SendInterval: time.Millisecond,
		Retry:        env.Config.Retry,
	}, logger)

	chat, err := ollama.NewClient(env.Config.Summarizer.Host, &http.Client{Timeout: 10 * time.Second})
	require.NoError(env.t, err)
	sum := summarizer.New(chat, env.Config.Summarizer, logger, nil)

	env.Engine = service.NewEngine(env.Config, env.DB, env.transport, sum, env.transport.Ping, logger)
}

// Collect runs one collection cycle the way the poller does
func (env *TestEnvironment) Collect() service.CollectionResult {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return env.Engine.Poller.PollOnce(ctx)
}

// Deliver queues envelopes and collects them
func (env *TestEnvironment) Deliver(envelopes ...types.Envelope) service.CollectionResult {
	env.t.Helper()
	env.Signal.Enqueue(envelopes...)
	return env.Collect()
}

// Count returns the number of stored messages in a group
func (env *TestEnvironment) Count(groupID string) int {
	env.t.Helper()
	n, err := env.DB.CountMessages(context.Background(), groupID)
	require.NoError(env.t, err)
	return n
}

// Seed stores messages directly, bypassing collection
func (env *TestEnvironment) Seed(groupID, senderID string, sentAt ...time.Time) {
	env.t.Helper()
	for i, at := range sentAt {
		inserted, err := env.DB.PutMessage(context.Background(), &models.Message{
			GroupID:   groupID,
			SenderID:  senderID,
			Timestamp: at.UnixMilli(),
			Body:      fmt.Sprintf("seeded message %d", i+1),
		})
		require.NoError(env.t, err)
		require.True(env.t, inserted)
	}
}

// AddSchedule persists s with defaults for the fields left empty
func (env *TestEnvironment) AddSchedule(s models.Schedule) models.Schedule {
	env.t.Helper()
	if s.ScheduleType == "" {
		s.ScheduleType = models.ScheduleTypeDaily
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.SummaryPeriodHours == 0 {
		s.SummaryPeriodHours = 24
	}
	if s.RetentionHours == 0 {
		s.RetentionHours = constants.DefaultRetentionHours
	}
	require.NoError(env.t, env.DB.CreateSchedule(context.Background(), &s))
	return s
}

// ms returns a Signal timestamp offset from now
func ms(offset time.Duration) int64 {
	return time.Now().Add(offset).UnixMilli()
}
