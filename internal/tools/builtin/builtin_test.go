package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/workspace"
)

func testGate(t *testing.T) (*workspace.Gate, string) {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root, "", workspace.StrategyOverlay)
	return workspace.NewGate(ws, nil, nil), root
}

func TestShellToolCapturesOutput(t *testing.T) {
	tool := &ShellTool{}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo hello"}`))
	require.NoError(t, err)
	require.Contains(t, out, "hello")
}

func TestShellToolTimesOut(t *testing.T) {
	tool := &ShellTool{}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"sleep 1","timeout_ms":20}`))
	require.ErrorContains(t, err, "timed out")
}

func TestShellToolMissingCommand(t *testing.T) {
	tool := &ShellTool{}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.ErrorContains(t, err, "missing command")
}

func TestWriteThenReadFileRoundTrip(t *testing.T) {
	gate, root := testGate(t)
	write := &WriteFileTool{Gate: gate}
	_, err := write.Execute(context.Background(), json.RawMessage(`{"path":"notes/a.md","content":"hello world"}`))
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(root, "notes", "a.md"))

	read := &ReadFileTool{Gate: gate}
	out, err := read.Execute(context.Background(), json.RawMessage(`{"path":"notes/a.md"}`))
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestReadFileWithOffsetAndLimit(t *testing.T) {
	gate, root := testGate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "lines.txt"), []byte("one\ntwo\nthree\nfour\n"), 0o644))

	read := &ReadFileTool{Gate: gate}
	out, err := read.Execute(context.Background(), json.RawMessage(`{"path":"lines.txt","offset":1,"limit":2}`))
	require.NoError(t, err)
	require.Equal(t, "two\nthree", out)
}

func TestEditFileReplacesExactString(t *testing.T) {
	gate, root := testGate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("foo foo bar"), 0o644))

	edit := &EditFileTool{Gate: gate}
	_, err := edit.Execute(context.Background(), json.RawMessage(`{"path":"f.txt","find":"foo","replace":"baz","all":true}`))
	require.NoError(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	require.Equal(t, "baz baz bar", string(data))
}

func TestEditFileFailsWhenFindAbsent(t *testing.T) {
	gate, root := testGate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("content"), 0o644))

	edit := &EditFileTool{Gate: gate}
	_, err := edit.Execute(context.Background(), json.RawMessage(`{"path":"f.txt","find":"missing","replace":"x"}`))
	require.Error(t, err)
}

func TestWriteFileDeniedOutsideWorkspace(t *testing.T) {
	gate, _ := testGate(t)
	write := &WriteFileTool{Gate: gate}
	_, err := write.Execute(context.Background(), json.RawMessage(`{"path":"../../etc/passwd","content":"x"}`))
	require.ErrorContains(t, err, "access denied")
}

type stubSearcher struct{ results []string }

func (s stubSearcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	return s.results, nil
}

func TestMemorySearchDelegatesToSearcher(t *testing.T) {
	tool := &MemorySearchTool{Searcher: stubSearcher{results: []string{"hit one", "hit two"}}}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"go"}`))
	require.NoError(t, err)
	require.Contains(t, out, "hit one")
	require.Contains(t, out, "hit two")
}

func TestMemorySearchFailsWithoutCollaborator(t *testing.T) {
	tool := &MemorySearchTool{}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"go"}`))
	require.Error(t, err)
}

func TestMemorySnippetReadBoundsLines(t *testing.T) {
	gate, root := testGate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte("l1\nl2\nl3\nl4\nl5\n"), 0o644))

	tool := &MemorySnippetReadTool{Gate: gate}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"MEMORY.md","start_line":2,"end_line":3}`))
	require.NoError(t, err)
	require.Equal(t, "l2\nl3", out)
}
