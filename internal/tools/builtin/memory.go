package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentd-run/agentd/internal/types"
	"github.com/agentd-run/agentd/internal/workspace"
)

// Searcher is the FTS/vector-index collaborator memory-search delegates to.
// The index itself lives outside the core per spec.md — this tool is only
// a thin dispatch over whatever collaborator is wired in.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// MemorySearchTool delegates free-text queries to a Searcher collaborator.
type MemorySearchTool struct {
	Searcher Searcher
}

type memorySearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "memory_search",
		Description: "Search durable memory and daily logs for relevant snippets.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"limit": {"type": "integer"}
			},
			"required": ["query"]
		}`),
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args memorySearchArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.Query == "" {
		return "", fmt.Errorf("missing query")
	}
	if t.Searcher == nil {
		return "", fmt.Errorf("memory search is not configured")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	results, err := t.Searcher.Search(ctx, args.Query, limit)
	if err != nil {
		return "", err
	}
	return strings.Join(results, "\n---\n"), nil
}

// MemorySnippetReadTool returns a bounded line slice from a well-known
// memory file, enforced through the shared path Gate.
type MemorySnippetReadTool struct {
	Gate *workspace.Gate
}

type memorySnippetArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (t *MemorySnippetReadTool) Name() string { return "memory_snippet_read" }

func (t *MemorySnippetReadTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "memory_snippet_read",
		Description: "Read a bounded line range from a memory file.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"start_line": {"type": "integer"},
				"end_line": {"type": "integer"}
			},
			"required": ["path", "start_line", "end_line"]
		}`),
	}
}

func (t *MemorySnippetReadTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args memorySnippetArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.Path == "" {
		return "", fmt.Errorf("missing path")
	}
	if args.EndLine < args.StartLine {
		return "", fmt.Errorf("end_line must be >= start_line")
	}

	resolved, err := t.Gate.Check(args.Path, workspace.ModeRead)
	if err != nil {
		return "", fmt.Errorf("access denied")
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
		if lineNo < args.StartLine {
			continue
		}
		if lineNo > args.EndLine {
			break
		}
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n"), nil
}
