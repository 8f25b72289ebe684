package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a YAML config into a temp dir and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "topicbridge dev")
}

func TestConfigCommand_PrintsRedactedConfig(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker:
    host: broker.local
    client_id: bridge-1
  auth:
    username: bridge
    password: hunter2
database:
  path: `+filepath.Join(t.TempDir(), "store.db")+`
`)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "host: broker.local")
	assert.Contains(t, out.String(), "port: 1883")
	assert.NotContains(t, out.String(), "hunter2")
}

func TestConfigCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "mqtt:\n  broker:\n    port: 1883\n")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "-c", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker.host is required")
}

func TestRun_MissingConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestRun_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	err := run(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

// TestRun_BrokerUnreachable starts the full stack against a closed port.
// Startup gets as far as the MQTT connect, which must fail cleanly.
func TestRun_BrokerUnreachable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "store.db")
	path := writeConfig(t, `
mqtt:
  broker:
    host: 127.0.0.1
    port: 1
  connect_timeout: 2
database:
  path: `+dbPath+`
api:
  enabled: false
metrics:
  enabled: false
logging:
  level: error
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to MQTT")

	_, statErr := os.Stat(dbPath)
	assert.NoError(t, statErr, "database should have been created before connecting")
}
