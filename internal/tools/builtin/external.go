package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentd-run/agentd/internal/sandbox"
	"github.com/agentd-run/agentd/internal/types"
)

// ExternalTool dispatches to one pre-approved executable under the
// Sandboxed One-shot Runner, passing the call's JSON arguments to the
// child's stdin as spec.md §4.G requires rather than as argv.
type ExternalTool struct {
	ToolName    string
	Description string
	Executable  string
	Args        []string
	Runner      *sandbox.Runner
	Policy      sandbox.Policy
}

func (t *ExternalTool) Name() string { return t.ToolName }

func (t *ExternalTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        t.ToolName,
		Description: t.Description,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"input": {"type": "string"}},
			"required": ["input"]
		}`),
	}
}

type externalArgs struct {
	Input string `json:"input"`
}

func (t *ExternalTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args externalArgs
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	result, err := t.Runner.Run(ctx, t.Executable, t.Args, args.Input, t.Policy)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}
