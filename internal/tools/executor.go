package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentd-run/agentd/internal/types"
)

// SanitizationConfig controls tool-output wrapping and scanning.
type SanitizationConfig struct {
	// Enabled turns on delimiter wrapping, truncation, and pattern
	// scanning. When false, raw tool output passes through verbatim.
	Enabled bool
	// MaxChars truncates the tool output before it is wrapped; 0 means
	// unbounded.
	MaxChars int
}

// suspiciousPatterns is the fixed set of injection-style patterns scanned
// for in tool output before it re-enters the model's context.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
	regexp.MustCompile(`(?i)disregard (the )?system prompt`),
	regexp.MustCompile(`(?i)you are now in`),
	regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`),
}

// Executor dispatches tool calls against a Registry, applying the approval
// gate and output sanitization spec.md §4.D prescribes.
type Executor struct {
	registry        *Registry
	approval        ApprovalChecker
	requireApproval map[string]bool
	sanitize        SanitizationConfig
}

// NewExecutor creates an Executor over registry. requireApproval names the
// tools that must have a consumed one-shot approval before execution.
func NewExecutor(registry *Registry, approval ApprovalChecker, requireApproval []string, sanitize SanitizationConfig) *Executor {
	set := make(map[string]bool, len(requireApproval))
	for _, name := range requireApproval {
		set[name] = true
	}
	return &Executor{registry: registry, approval: approval, requireApproval: set, sanitize: sanitize}
}

// Execute runs the Execution algorithm for a single tool call:
//  1. approval gate (ApprovalRequiredError if no consumed approval)
//  2. lookup ("unknown tool" on miss)
//  3. invoke
//  4. sanitize (delimiter-wrap, truncate, suspicious-pattern scan)
func (e *Executor) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	if e.requireApproval[call.Name] {
		if e.approval == nil || !e.approval.ConsumeApproval(call.ID) {
			return "", &ApprovalRequiredError{ToolName: call.Name, Call: call}
		}
	}

	t, ok := e.registry.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	raw, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		return "", err
	}

	if !e.sanitize.Enabled {
		return raw, nil
	}
	return e.sanitizeOutput(call.Name, raw), nil
}

// ExecuteApproved runs a tool call that the caller has already approved
// out-of-band (the Chat Engine's approve_tool_call resume path), skipping
// the approval gate but still applying lookup, invocation, and output
// sanitization.
func (e *Executor) ExecuteApproved(ctx context.Context, call types.ToolCall) (string, error) {
	t, ok := e.registry.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	raw, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		return "", err
	}

	if !e.sanitize.Enabled {
		return raw, nil
	}
	return e.sanitizeOutput(call.Name, raw), nil
}

func (e *Executor) sanitizeOutput(toolName, raw string) string {
	content := raw
	if e.sanitize.MaxChars > 0 && len(content) > e.sanitize.MaxChars {
		content = content[:e.sanitize.MaxChars] + "\n...[truncated]"
	}

	var warnings []string
	for _, pat := range suspiciousPatterns {
		if pat.MatchString(content) {
			warnings = append(warnings, fmt.Sprintf("suspicious pattern matched: %s", pat.String()))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<tool-output name=%q>\n%s\n</tool-output>", toolName, content)
	if len(warnings) > 0 {
		b.WriteString("\n<tool-output-warnings>\n")
		b.WriteString(strings.Join(warnings, "\n"))
		b.WriteString("\n</tool-output-warnings>")
	}
	return b.String()
}
