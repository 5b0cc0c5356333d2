package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServerScript is a minimal JSON-RPC stdio server: it replies to
// "initialize" and "tools/list", ignores notifications, and echoes back
// whatever "params.value" it's given for "echo".
const fakeServerScript = `
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  method=$(printf '%s' "$line" | sed -n 's/.*"method":"\([^"]*\)".*/\1/p')
  case "$method" in
    initialize)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}\n' "$id"
      ;;
    tools/list)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"noop","description":"does nothing"}]}}\n' "$id"
      ;;
    notifications/initialized)
      ;;
    *)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"echo":"ok"}}\n' "$id"
      ;;
  esac
done
`

func testConfig(id string) ServerConfig {
	return ServerConfig{ID: id, Command: "/bin/sh", Args: []string{"-c", fakeServerScript}}
}

func TestEnsureSpawnsAndHandshakes(t *testing.T) {
	m := NewManager(nil)
	m.Initialize([]ServerConfig{testConfig("fake")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, m.Ensure(ctx, "fake"))
	defer m.ShutdownAll()

	// second Ensure should be a cheap no-op against the live entry.
	require.NoError(t, m.Ensure(ctx, "fake"))
}

func TestListToolsReturnsServerTools(t *testing.T) {
	m := NewManager(nil)
	m.Initialize([]ServerConfig{testConfig("fake")})
	defer m.ShutdownAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := m.ListTools(ctx, "fake")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "noop", tools[0].Name)
}

func TestCallUnknownServerFails(t *testing.T) {
	m := NewManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := m.Call(ctx, "missing", "tools/list", nil)
	require.Error(t, err)
}

func TestShutdownRemovesEntry(t *testing.T) {
	m := NewManager(nil)
	m.Initialize([]ServerConfig{testConfig("fake")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Ensure(ctx, "fake"))

	m.Shutdown("fake")
	_, err := m.transportFor("fake")
	require.Error(t, err)
}
