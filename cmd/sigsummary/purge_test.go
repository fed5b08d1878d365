package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigsummary/internal/config"
	"sigsummary/internal/database"
	"sigsummary/internal/models"
)

// seedMessages writes messages straight into the store the config points at
func seedMessages(t *testing.T, path string, msgs ...models.Message) {
	t.Helper()
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	db, err := database.New(cfg.Database.Path)
	require.NoError(t, err)
	defer db.Close()

	for i := range msgs {
		inserted, err := db.PutMessage(context.Background(), &msgs[i])
		require.NoError(t, err)
		require.True(t, inserted)
	}
}

func message(sentAt time.Time) models.Message {
	return models.Message{
		GroupID:   cliSourceGroup,
		SenderID:  "+15550002222",
		Timestamp: sentAt.UnixMilli(),
		Body:      "hello",
	}
}

func TestPurgeCmd_Sweep(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))
	now := time.Now().UTC()
	seedMessages(t, path,
		message(now.Add(-72*time.Hour)),
		message(now.Add(-50*time.Hour)),
		message(now.Add(-time.Hour)),
	)

	out, err := runCLI(t, "--config", path, "purge")
	require.NoError(t, err)
	assert.Equal(t, "Swept 1 groups: 2 messages deleted, 0 summary runs pruned.\n", out)

	out, err = runCLI(t, "--config", path, "purge")
	require.NoError(t, err)
	assert.Equal(t, "Swept 1 groups: 0 messages deleted, 0 summary runs pruned.\n", out)
}

func TestPurgeCmd_Group(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))
	now := time.Now().UTC()
	seedMessages(t, path, message(now), message(now.Add(-time.Second)))

	_, err := runCLI(t, "--config", path, "purge", "--group", cliSourceGroup)
	assert.ErrorContains(t, err, "--yes")

	_, err = runCLI(t, "--config", path, "purge", "--group", "not a group", "--yes")
	assert.Error(t, err)

	out, err := runCLI(t, "--config", path, "purge", "--group", cliSourceGroup, "--yes")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 2 messages.\n", out)
}

func TestMigrateCmd(t *testing.T) {
	path := writeTestConfig(t, newFakeBackends(t))

	out, err := runCLI(t, "--config", path, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "Schema is at version 2\n", out)
}
