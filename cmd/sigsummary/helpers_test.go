package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"sigsummary/internal/constants"
)

const testPhone = "+15550001111"

// fakeBackends stands in for signal-cli-rest-api and Ollama
type fakeBackends struct {
	signal *httptest.Server
	ollama *httptest.Server

	mu    sync.Mutex
	sends []string
}

func newFakeBackends(t *testing.T) *fakeBackends {
	t.Helper()
	f := &fakeBackends{}

	f.signal = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/about":
			fmt.Fprint(w, `{"versions":["v1","v2"]}`)
		case strings.HasPrefix(r.URL.Path, "/v1/receive/"), strings.HasPrefix(r.URL.Path, "/v1/groups/"):
			fmt.Fprint(w, `[]`)
		case r.URL.Path == "/v2/send":
			f.mu.Lock()
			f.sends = append(f.sends, r.URL.Path)
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"timestamp":1700000000000}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.signal.Close)

	f.ollama = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, "Ollama is running")
		case "/api/chat":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"message":{"role":"assistant","content":"Participants discussed plans."},"done":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.ollama.Close)

	return f
}

func (f *fakeBackends) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// writeTestConfig writes a config pointing at the fake backends and a temp
// database, and clears environment overrides.
func writeTestConfig(t *testing.T, f *fakeBackends) string {
	t.Helper()
	for _, key := range []string{
		"SIGNAL_RPC_URL", "SIGNAL_PHONE_NUMBER", "DB_PATH", "OLLAMA_HOST", "OLLAMA_MODEL",
		"LOG_LEVEL", "DEFAULT_RETENTION_HOURS", "PORT", "DRY_RUN", "ENV",
	} {
		t.Setenv(constants.EnvPrefix+key, "")
	}
	t.Setenv(constants.EnvEnableEncryption, "false")

	dir := t.TempDir()
	cfg := fmt.Sprintf(`{
		"signal": {"rpc_url": %q, "phone_number": %q, "send_interval_ms": 1},
		"database": {"path": %q},
		"summarizer": {"host": %q},
		"collector": {"poll_interval_sec": 3600, "attempt_timeout_sec": 1, "max_attempts": 1},
		"retry": {"initial_backoff_ms": 10, "max_backoff_ms": 20, "max_attempts": 1},
		"log_level": "error"
	}`, f.signal.URL, testPhone, filepath.Join(dir, "sigsummary.db"), f.ollama.URL)

	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))
	return path
}

// runCLI executes the root command with args and returns stdout
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLIContext(context.Background(), t, args...)
}

func runCLIContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}
