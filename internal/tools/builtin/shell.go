// Package builtin implements the Tool Registry's built-in tools (spec.md
// §4.D): shell-command runner, read-file, write-file, edit-file,
// memory-search, memory-snippet-read, and a byte-capped HTTP GET.
// Grounded on the teacher's internal/tools/exec/manager.go (subprocess
// spawn, buffered capture, context-based timeout) and internal/tools/files
// path handling.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/agentd-run/agentd/internal/types"
)

// DefaultShellTimeout is used when a shell call omits timeout_ms.
const DefaultShellTimeout = 30 * time.Second

// MaxCapturedOutput bounds how much stdout/stderr the shell tool retains.
const MaxCapturedOutput = 256 * 1024

// ShellTool runs an arbitrary command under a configurable timeout, killing
// it on expiry.
type ShellTool struct {
	WorkDir string
}

type shellArgs struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "shell",
		Description: "Run a shell command in the workspace and capture its output.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"timeout_ms": {"type": "integer"}
			},
			"required": ["command"]
		}`),
	}
}

func (t *ShellTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args shellArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return "", fmt.Errorf("missing command")
	}
	if args.Command == "" {
		return "", fmt.Errorf("missing command")
	}

	timeout := DefaultShellTimeout
	if args.TimeoutMs > 0 {
		timeout = time.Duration(args.TimeoutMs) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", args.Command)
	if t.WorkDir != "" {
		cmd.Dir = t.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: MaxCapturedOutput}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: MaxCapturedOutput}

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("timed out after %dms", timeout.Milliseconds())
	}
	if err != nil {
		return "", fmt.Errorf("%s\n%s", err, stderr.String())
	}
	return stdout.String(), nil
}

type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}
