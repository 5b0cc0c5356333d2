package script

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/workspace"
)

func testHostWithRoot(t *testing.T) (*Host, string) {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root, "", workspace.StrategyOverlay)
	gate := workspace.NewGate(ws, nil, nil)
	b := bus.New(4)
	return New(Policy{Gate: gate, NetworkAllowed: false}, b.NewSender(), nil), root
}

func testHost(t *testing.T) *Host {
	t.Helper()
	h, _ := testHostWithRoot(t)
	return h
}

func TestLoadScriptAndRegisterTool(t *testing.T) {
	h := testHost(t)
	err := h.LoadScript("greeter", `
		registerTool("greet", "says hello", {}, function(args) {
			return "hello, " + args.name;
		});
	`)
	require.NoError(t, err)

	tools, err := h.Tools()
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "greet", tools[0].Name)

	args, _ := json.Marshal(map[string]string{"name": "agentd"})
	out, err := h.ExecuteTool("greet", args)
	require.NoError(t, err)
	require.Equal(t, `"hello, agentd"`, out)
}

func TestTopLevelThrowDoesNotTerminateHost(t *testing.T) {
	h := testHost(t)
	err := h.LoadScript("broken", `throw new Error("boom");`)
	require.Error(t, err)

	// The host must still be responsive after a top-level throw.
	err = h.LoadScript("ok", `registerTool("ping", "", {}, function() { return "pong"; });`)
	require.NoError(t, err)

	out, err := h.ExecuteTool("ping", nil)
	require.NoError(t, err)
	require.Equal(t, `"pong"`, out)
}

func TestExecuteUnknownToolFails(t *testing.T) {
	h := testHost(t)
	_, err := h.ExecuteTool("nope", nil)
	require.Error(t, err)
}

func TestStatusProviderInvoked(t *testing.T) {
	h := testHost(t)
	require.NoError(t, h.LoadScript("status", `
		registerStatusProvider(function() { return "all systems go"; });
	`))
	status, err := h.Status()
	require.NoError(t, err)
	require.Equal(t, "all systems go", status)
}

func TestReadFileCapabilityRespectsGate(t *testing.T) {
	h := testHost(t)
	err := h.LoadScript("reader", `
		registerTool("read", "", {}, function(args) {
			return readFile(args.path);
		});
	`)
	require.NoError(t, err)

	args, _ := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	_, err = h.ExecuteTool("read", args)
	require.Error(t, err)
}

func TestWriteFileCapabilityWritesUnderWorkspace(t *testing.T) {
	h, root := testHostWithRoot(t)
	err := h.LoadScript("writer", `
		registerTool("write", "", {}, function(args) {
			writeFile(args.path, args.content);
			return "done";
		});
	`)
	require.NoError(t, err)

	args, _ := json.Marshal(map[string]string{"path": "notes.md", "content": "hi"})
	_, err = h.ExecuteTool("write", args)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "notes.md"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}
