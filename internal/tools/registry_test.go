package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/types"
)

type stubTool struct {
	name   string
	schema types.ToolSchema
	result string
	err    error
}

func (s stubTool) Name() string              { return s.name }
func (s stubTool) Schema() types.ToolSchema   { return s.schema }
func (s stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return s.result, s.err
}

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubTool{name: "echo", result: "builtin"})
	r.Register(stubTool{name: "echo", result: "script-override"})

	tool, ok := r.Lookup("echo")
	require.True(t, ok)
	out, _ := tool.Execute(context.Background(), nil)
	require.Equal(t, "script-override", out)
}

func TestSnapshotPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubTool{name: "a"})
	r.Register(stubTool{name: "b"})
	r.Register(stubTool{name: "c"})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "a", snap[0].Name())
	require.Equal(t, "c", snap[2].Name())
}

func TestSchemaCompilesValidParameters(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubTool{
		name: "shell",
		schema: types.ToolSchema{
			Name:       "shell",
			Parameters: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
		},
	})
	schema, ok := r.Schema("shell")
	require.True(t, ok)
	require.NotNil(t, schema)
}

func TestSchemaSkippedWhenUncompilable(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubTool{
		name:   "broken",
		schema: types.ToolSchema{Name: "broken", Parameters: json.RawMessage(`not json`)},
	})
	_, ok := r.Schema("broken")
	require.False(t, ok)
}
