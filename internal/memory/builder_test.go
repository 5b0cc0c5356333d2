package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/workspace"
)

func TestBuildSkipsMissingFilesSilently(t *testing.T) {
	root := t.TempDir()
	ws := workspace.New(root, "", workspace.StrategyOverlay)
	out := New(ws).Build()
	require.Contains(t, out, "first run")
}

func TestBuildIncludesPresentFilesInFixedOrder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "IDENTITY.md"), []byte("I am agentd."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte("Durable fact: likes Go."), 0o644))

	ws := workspace.New(root, "", workspace.StrategyOverlay)
	out := New(ws).Build()

	require.NotContains(t, out, "first run")
	idx1 := indexOf(out, "I am agentd.")
	idx2 := indexOf(out, "Durable fact")
	require.True(t, idx1 < idx2, "identity should precede durable memory in the fixed order")
	require.Contains(t, out, `source="identity"`)
}

func TestBuildIncludesRecentDailyLogsNewestFirst(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte("x"), 0o644))
	memDir := filepath.Join(root, "memory")
	require.NoError(t, os.MkdirAll(memDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "2026-07-28.md"), []byte("day one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "2026-07-29.md"), []byte("day two"), 0o644))

	ws := workspace.New(root, "", workspace.StrategyOverlay)
	out := New(ws).Build()

	require.True(t, indexOf(out, "day two") < indexOf(out, "day one"), "newest daily log should appear first")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
