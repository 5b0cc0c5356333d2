// Package turn implements the Turn Controller (spec.md §4.M): the daemon's
// single consumer loop that drains the Ingress Bus (through the Debounce
// Manager), selects a persona and tool scope by trust level, drives the
// Chat Engine, and dispatches the result to a reply sink or an artifact.
//
// Grounded on the teacher's internal/agent/runtime.go Process/run dispatch
// (one goroutine per inbound unit of work, trust/role-driven system-prompt
// and tool-policy selection feeding a shared completion loop), generalized
// from its HTTP-session model down to spec.md's bus-drained, trust-branched
// shape.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentd-run/agentd/internal/metrics"
	"github.com/agentd-run/agentd/internal/tools"
	"github.com/agentd-run/agentd/internal/types"
)

// toolScope is the resolved set of tool names permitted for a turn. A nil
// scope means "no restriction" (the full registered set); an empty,
// non-nil scope means "no tools at all".
type toolScope struct {
	allowed map[string]bool // nil => unrestricted
}

func fullScope() toolScope      { return toolScope{} }
func emptyScope() toolScope     { return toolScope{allowed: map[string]bool{}} }
func (s toolScope) permits(name string) bool {
	if s.allowed == nil {
		return true
	}
	return s.allowed[name]
}

// parseJobScope interprets a scheduler.Job / EXECUTE_JOB tool-scope spec:
// "all" (case-insensitive) means unrestricted, otherwise a comma-separated
// list of tool names.
func parseJobScope(spec string) toolScope {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		return fullScope()
	}
	allowed := make(map[string]bool)
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			allowed[name] = true
		}
	}
	return toolScope{allowed: allowed}
}

// filterSchemas returns the subset of schemas permitted by scope, in their
// original order.
func filterSchemas(schemas []types.ToolSchema, scope toolScope) []types.ToolSchema {
	if scope.allowed == nil {
		return schemas
	}
	out := make([]types.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		if scope.permits(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// scopedExecutor wraps *tools.Executor so the Chat Engine can be handed a
// trust-restricted view of the tool set without itself knowing about
// trust or scope — the engine only depends on chat.ToolExecutor. It also
// records per-call outcome metrics at the one choke point every tool
// invocation passes through, regardless of trust level.
type scopedExecutor struct {
	inner   *tools.Executor
	scope   toolScope
	metrics *metrics.Metrics
}

func newScopedExecutor(inner *tools.Executor, scope toolScope, m *metrics.Metrics) *scopedExecutor {
	return &scopedExecutor{inner: inner, scope: scope, metrics: m}
}

func (s *scopedExecutor) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	if !s.scope.permits(call.Name) {
		return "", fmt.Errorf("tool %q is not permitted for this turn's trust level", call.Name)
	}
	out, err := s.inner.Execute(ctx, call)
	s.observe(call.Name, err)
	return out, err
}

func (s *scopedExecutor) ExecuteApproved(ctx context.Context, call types.ToolCall) (string, error) {
	if !s.scope.permits(call.Name) {
		return "", fmt.Errorf("tool %q is not permitted for this turn's trust level", call.Name)
	}
	out, err := s.inner.ExecuteApproved(ctx, call)
	s.observe(call.Name, err)
	return out, err
}

func (s *scopedExecutor) observe(tool string, err error) {
	if s.metrics == nil {
		return
	}
	var approvalErr *tools.ApprovalRequiredError
	if errors.As(err, &approvalErr) {
		return
	}
	s.metrics.ObserveToolCall(tool, err)
}
