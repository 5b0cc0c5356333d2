package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentd-run/agentd/internal/types"
)

// MCPCaller is the subset of *mcp.Manager a proxied tool depends on.
type MCPCaller interface {
	Call(ctx context.Context, name, method string, params any) (json.RawMessage, error)
}

type mcpCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MCPTool proxies one tool exposed by a named MCP server, dispatching
// through the server's "tools/call" method per spec.md §4.E.
type MCPTool struct {
	ToolName    string
	Description string
	InputSchema json.RawMessage
	ServerName  string
	RemoteTool  string
	Manager     MCPCaller
}

func (t *MCPTool) Name() string { return t.ToolName }

func (t *MCPTool) Schema() types.ToolSchema {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return types.ToolSchema{Name: t.ToolName, Description: t.Description, Parameters: schema}
}

func (t *MCPTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	if len(argsJSON) == 0 {
		argsJSON = json.RawMessage(`{}`)
	}
	raw, err := t.Manager.Call(ctx, t.ServerName, "tools/call", mcpCallParams{Name: t.RemoteTool, Arguments: argsJSON})
	if err != nil {
		return "", fmt.Errorf("mcp tool %q: %w", t.ToolName, err)
	}
	return string(raw), nil
}
