// Package tools implements the Tool Registry & Executor (spec.md §4.D):
// polymorphic tool dispatch, approval gating, and output sanitization,
// grounded on the teacher's internal/agent/tool_registry.go and
// internal/agent/executor.go.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentd-run/agentd/internal/types"
)

// Tool is the contract every dispatchable tool implements, polymorphic over
// builtin, external-subprocess, script, and protocol-server-proxy backends.
type Tool interface {
	Name() string
	Schema() types.ToolSchema
	Execute(ctx context.Context, argsJSON json.RawMessage) (string, error)
}

// ApprovalRequiredError is a control signal, not a user-visible failure: the
// Chat Engine catches it to suspend the turn and drive the Approval
// Coordinator.
type ApprovalRequiredError struct {
	ToolName string
	Call     types.ToolCall
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval required for tool %q", e.ToolName)
}

// ApprovalChecker reports whether a one-shot approval has already been
// consumed for a tool call, and consumes it if present.
type ApprovalChecker interface {
	// ConsumeApproval returns true and removes the entry if callID has a
	// pending, already-granted one-shot approval.
	ConsumeApproval(callID string) bool
}
