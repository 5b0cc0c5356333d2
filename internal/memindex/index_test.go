package memindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/workspace"
)

func TestReindexAndSearch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "memory"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte("the user prefers dark mode"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "memory", "2026-07-01.md"), []byte("deployed the new release pipeline"), 0o644))

	ws := workspace.New(root, "", workspace.StrategyOverlay)
	idx, err := Open(filepath.Join(root, "state", "memory.db"))
	require.NoError(t, err)
	defer idx.Close()

	count, err := idx.Reindex(ws)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	results, err := idx.Search("dark", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "MEMORY.md", results[0].Path)

	stats, err := idx.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.DocumentCount)
	require.False(t, stats.LastIndexedAt.IsZero())
}

func TestReindexSkipsMissingFiles(t *testing.T) {
	root := t.TempDir()
	ws := workspace.New(root, "", workspace.StrategyOverlay)
	idx, err := Open(filepath.Join(root, "state", "memory.db"))
	require.NoError(t, err)
	defer idx.Close()

	count, err := idx.Reindex(ws)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
