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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves the endpoints the commands below touch.
type fakeBackend struct {
	mu      sync.Mutex
	deleted []string
	auth    []string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/api/health":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/simple-message":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":"hi there","timestamp":"2024-05-01T10:00:00Z"}`)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/memory/"):
		f.mu.Lock()
		f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/api/memory/"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func setup(t *testing.T) (*fakeBackend, func(args ...string) (string, error)) {
	t.Helper()
	for _, k := range []string{
		"EVA_BASE_URL", "EVA_USER_ID", "EVA_AUTH_TOKEN", "EVA_AUDIENCE",
		"GOOGLE_APPLICATION_CREDENTIALS", "DB_TYPE", "DATABASE_URL", "GOOGLE_API_KEY",
		"EVA_CALL_URL", "EVA_LOG_LEVEL", "EVA_SYNC_WORKERS",
	} {
		t.Setenv(k, "")
	}

	backend := &fakeBackend{}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`user_id: tester
api:
  base_url: %s/api/
  simple_endpoint: true
auth:
  token: test-token
  token_file: %s
store:
  type: sqlite
  dsn: %s
logging:
  level: error
`, srv.URL, filepath.Join(dir, "token.json"), filepath.Join(dir, "eva.db"))
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append([]string{"--config", path}, args...))
		err := rootCmd.ExecuteContext(context.Background())
		return out.String(), err
	}
	return backend, run
}

func TestMemoryCommands(t *testing.T) {
	backend, run := setup(t)

	out, err := run("memory", "add", "buy", "milk", "--title", "Groceries", "-i", "4")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = run("memory", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "[4] Groceries")
	assert.True(t, strings.HasPrefix(out, "*"), "unsynced memories are marked")

	out, err = run("memory", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "buy milk")
	assert.Contains(t, out, "importance 4")

	out, err = run("memory", "search", "milk")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	_, err = run("memory", "rm", id)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, backend.deleted)

	out, err = run("memory", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no memories")
}

func TestChatCommands(t *testing.T) {
	backend, run := setup(t)

	out, err := run("chat", "send", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", out)
	assert.Contains(t, backend.auth, "Bearer test-token")

	out, err = run("chat", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "you: hello")
	assert.Contains(t, out, "eva: hi there")

	_, err = run("chat", "clear")
	require.NoError(t, err)

	out, err = run("chat", "history")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHealthAndAuthCommands(t *testing.T) {
	_, run := setup(t)

	out, err := run("health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, err = run("auth", "status")
	require.NoError(t, err)
	assert.Equal(t, "not authenticated\n", out)

	out, err = run("auth", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated until")

	out, err = run("auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated until")

	_, err = run("auth", "logout")
	require.NoError(t, err)
	out, err = run("auth", "status")
	require.NoError(t, err)
	assert.Equal(t, "not authenticated\n", out)
}

func TestLoginWithoutCredentials(t *testing.T) {
	_, run := setup(t)

	bare := filepath.Join(t.TempDir(), "bare.yaml")
	require.NoError(t, os.WriteFile(bare, []byte("auth:\n  audience: \"\"\n  token: \"\"\n"), 0o600))

	_, err := run("--config", bare, "auth", "login")
	assert.ErrorIs(t, err, errNoCredentials)
}

func TestToolsCommands(t *testing.T) {
	_, run := setup(t)

	out, err := run("tools", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "save_memory")
	assert.Contains(t, out, "list_memories")

	out, err = run("tools", "call", "save_memory", `{"text":"locker code 4411","importance":3}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"success":true`)

	out, err = run("tools", "call", "search_memories", `{"query":"locker"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "locker code 4411")

	out, err = run("tools", "call", "read_file")
	require.NoError(t, err)
	assert.Contains(t, out, "unknown tool: read_file")
}

func TestConfigCommands(t *testing.T) {
	_, run := setup(t)

	_, err := run("config", "init")
	assert.ErrorContains(t, err, "already exists")

	out, err := run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "user_id: tester")
	assert.NotContains(t, out, "test-token")

	fresh := filepath.Join(t.TempDir(), "sub", "config.yaml")
	out, err = run("--config", fresh, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+fresh)
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := buildSystemPrompt(nil)
	assert.Contains(t, prompt, "save_memory")
	assert.NotContains(t, prompt, "marked as important")

	prompt = buildSystemPrompt([]string{"Allergic to peanuts"})
	assert.Contains(t, prompt, "marked as important")
	assert.Contains(t, prompt, "- Allergic to peanuts")
}
