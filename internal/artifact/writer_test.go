package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/types"
)

func TestWriteProducesFrontMatterAndBody(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	path, err := w.Write(types.Artifact{
		Type:    "job-output",
		Source:  "scheduler:daily-report",
		Trust:   types.TrustedEvent,
		Model:   "default",
		Content: "# Report\n\nEverything is fine.",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "20"))
	require.Contains(t, filepath.Base(path), "scheduler-daily-report")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasPrefix(content, "---\n"))
	require.Contains(t, content, "type: job-output")
	require.Contains(t, content, "trust_level: trusted_event")
	require.Contains(t, content, "# Report")
}

func TestWriteSanitizesUnsafeSourceChars(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	path, err := w.Write(types.Artifact{Source: "telegram:+1 555/weird?", Content: "x"})
	require.NoError(t, err)
	require.NotContains(t, filepath.Base(path), "/")
	require.NotContains(t, filepath.Base(path), " ")
	require.NotContains(t, filepath.Base(path), "?")
}

func TestWriteDefaultsSourceWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	path, err := w.Write(types.Artifact{Content: "x"})
	require.NoError(t, err)
	require.Contains(t, filepath.Base(path), "unknown")
}
