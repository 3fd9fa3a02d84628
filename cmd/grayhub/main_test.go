package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// writeConfig writes a config.yaml plus empty automation and scene files.
func writeConfig(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	automations := filepath.Join(dir, "automations.yaml")
	scenes := filepath.Join(dir, "scenes.yaml")
	require.NoError(t, os.WriteFile(automations, []byte(`
- id: hello
  triggers:
    - platform: event
      event_type: hello
  actions:
    - service: input_boolean.turn_on
      target: input_boolean.greeted
`), 0o600))
	require.NoError(t, os.WriteFile(scenes, []byte(`
- name: Movie
  entities:
    light.tv: "off"
`), 0o600))

	body := fmt.Sprintf(`
site:
  name: Test Home
  timezone: Europe/London
database:
  path: ":memory:"
mqtt:
  enabled: false
api:
  host: 127.0.0.1
  port: %d
automation:
  file: %s
scenes:
  file: %s
logging:
  level: error
  output: stderr
security:
  jwt:
    secret: %s
  tokens:
    - static-test-token
`, port, automations, scenes, testSecret)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYHUB_CONFIG", "")
	assert.Equal(t, defaultConfigPath, getConfigPath())

	t.Setenv("GRAYHUB_CONFIG", "/etc/grayhub/config.yaml")
	assert.Equal(t, "/etc/grayhub/config.yaml", getConfigPath())
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "grayhub "+version)
}

func TestCheckConfig(t *testing.T) {
	path := writeConfig(t, 8123)
	out, err := execute(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 automations")
	assert.Contains(t, out, "1 scenes")
}

func TestCheckConfig_MissingFile(t *testing.T) {
	_, err := execute(t, "check-config", "--config", "/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestCheckConfig_InvalidAutomation(t *testing.T) {
	path := writeConfig(t, 8123)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.Automation.File, []byte(`
- id: broken
  triggers:
    - platform: telepathy
  actions: []
`), 0o600))

	_, err = execute(t, "check-config", "--config", path)
	assert.Error(t, err)
}

func TestDBCommands(t *testing.T) {
	path := writeConfig(t, 8123)
	t.Setenv("GRAYHUB_DATABASE_PATH", filepath.Join(t.TempDir(), "hub.db"))

	out, err := execute(t, "db", "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pending  20261001_120000_initial_schema")
	assert.NotContains(t, out, "applied")

	out, err = execute(t, "db", "migrate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 2 migrations")

	out, err = execute(t, "db", "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "applied  20261002_090000_logbook")
	assert.NotContains(t, out, "pending")

	out, err = execute(t, "db", "rollback", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back 20261002_090000")

	out, err = execute(t, "db", "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pending  20261002_090000_logbook")
}

func TestTokenCommand_JWT(t *testing.T) {
	path := writeConfig(t, 8123)
	out, err := execute(t, "token", "--config", path, "--subject", "kitchen-panel", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "kitchen-panel", claims.Subject)
}

func TestTokenCommand_Hash(t *testing.T) {
	out, err := execute(t, "token", "--hash", "s3cret")
	require.NoError(t, err)

	ok, err := auth.VerifyToken("s3cret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTokenCommand_Static(t *testing.T) {
	out, err := execute(t, "token", "--static")
	require.NoError(t, err)
	assert.Contains(t, out, "token: ")
	assert.Contains(t, out, "hash:  $argon2id$")
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	cfg, err := config.Load(writeConfig(t, port))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	call := func(method, path, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, base+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer static-test-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp := call(http.MethodPost, "/api/states/input_boolean.greeted", `{"state":"off"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = call(http.MethodPost, "/api/events/hello", `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool {
		resp := call(http.MethodGet, "/api/states/input_boolean.greeted", "")
		defer resp.Body.Close()
		var st struct {
			State string `json:"state"`
		}
		return json.NewDecoder(resp.Body).Decode(&st) == nil && st.State == "on"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
