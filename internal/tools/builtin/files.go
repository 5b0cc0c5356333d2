package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentd-run/agentd/internal/types"
	"github.com/agentd-run/agentd/internal/workspace"
)

// ReadFileTool reads a file with an optional line offset and limit,
// enforcing the shared path-permission Gate.
type ReadFileTool struct {
	Gate *workspace.Gate
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "read_file",
		Description: "Read a text file, optionally by line offset and limit.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"offset": {"type": "integer"},
				"limit": {"type": "integer"}
			},
			"required": ["path"]
		}`),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args readFileArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.Path == "" {
		return "", fmt.Errorf("missing path")
	}

	resolved, err := t.Gate.Check(args.Path, workspace.ModeRead)
	if err != nil {
		return "", fmt.Errorf("access denied")
	}

	if args.Offset == 0 && args.Limit == 0 {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	f, err := os.Open(resolved)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= args.Offset {
			continue
		}
		if args.Limit > 0 && len(lines) >= args.Limit {
			break
		}
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n"), nil
}

// WriteFileTool writes content to a file, creating parent directories as
// needed, enforcing the shared path-permission Gate in write mode.
type WriteFileTool struct {
	Gate *workspace.Gate
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args writeFileArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.Path == "" {
		return "", fmt.Errorf("missing path")
	}

	resolved, err := t.Gate.Check(args.Path, workspace.ModeWrite)
	if err != nil {
		return "", fmt.Errorf("access denied")
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(resolved, []byte(args.Content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), nil
}

// EditFileTool performs an exact-string replace, single occurrence or all.
type EditFileTool struct {
	Gate *workspace.Gate
}

type editFileArgs struct {
	Path    string `json:"path"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
	All     bool   `json:"all"`
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "edit_file",
		Description: "Replace an exact string occurrence (or all occurrences) in a file.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"find": {"type": "string"},
				"replace": {"type": "string"},
				"all": {"type": "boolean"}
			},
			"required": ["path", "find", "replace"]
		}`),
	}
}

func (t *EditFileTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args editFileArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.Path == "" || args.Find == "" {
		return "", fmt.Errorf("missing path or find")
	}

	resolved, err := t.Gate.Check(args.Path, workspace.ModeWrite)
	if err != nil {
		return "", fmt.Errorf("access denied")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	content := string(data)
	if !strings.Contains(content, args.Find) {
		return "", fmt.Errorf("find string not present in file")
	}

	var replaced string
	var count int
	if args.All {
		count = strings.Count(content, args.Find)
		replaced = strings.ReplaceAll(content, args.Find, args.Replace)
	} else {
		count = 1
		replaced = strings.Replace(content, args.Find, args.Replace, 1)
	}

	if err := os.WriteFile(resolved, []byte(replaced), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("replaced %d occurrence(s) in %s", count, args.Path), nil
}
