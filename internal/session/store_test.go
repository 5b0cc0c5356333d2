package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := types.NewSession("sess-1")
	return New(s, dir, nil)
}

func TestAppendRejectsOrphanToolReply(t *testing.T) {
	st := newTestStore(t)
	err := st.Append(types.Message{Role: types.RoleTool, ToolCallID: "missing", Content: "result"})
	require.Error(t, err)
}

func TestAppendAcceptsMatchingToolReply(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Append(types.Message{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCall{{ID: "call-1", Name: "shell"}},
	}))
	require.NoError(t, st.Append(types.Message{Role: types.RoleTool, ToolCallID: "call-1", Content: "ok"}))
}

func TestTruncateToLastNPreservesLeadingSystem(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Append(types.Message{Role: types.RoleSystem, Content: "you are an assistant"}))
	for i := 0; i < 10; i++ {
		require.NoError(t, st.Append(types.Message{Role: types.RoleUser, Content: "msg"}))
	}
	st.TruncateToLastN(3)
	snap := st.Snapshot()
	require.Equal(t, types.RoleSystem, snap.Messages[0].Role)
	require.Len(t, snap.Messages, 4)
}

type stubSummarizer struct{ summary string }

func (s stubSummarizer) Summarize(ctx context.Context, msgs []types.Message) (string, error) {
	return s.summary, nil
}

func TestCompactReplacesHistoryAndIncrementsCounter(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Append(types.Message{Role: types.RoleSystem, Content: "system prompt"}))
	require.NoError(t, st.Append(types.Message{Role: types.RoleUser, Content: "hello"}))
	require.NoError(t, st.Append(types.Message{Role: types.RoleAssistant, Content: "hi there"}))

	require.NoError(t, st.Compact(context.Background(), stubSummarizer{summary: "summary of prior turns"}))

	snap := st.Snapshot()
	require.Len(t, snap.Messages, 3)
	require.Equal(t, types.RoleSystem, snap.Messages[0].Role)
	require.Equal(t, "summary of prior turns", snap.Messages[1].Content)
	require.Equal(t, 1, snap.Meta.CompactionCount)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := types.NewSession("round-trip")
	st := New(s, dir, nil)
	require.NoError(t, st.Append(types.Message{Role: types.RoleUser, Content: "first"}))
	require.NoError(t, st.Append(types.Message{Role: types.RoleAssistant, Content: "second"}))
	require.NoError(t, st.Save())
	require.False(t, st.Dirty())

	loaded, err := Load(dir, "round-trip", nil)
	require.NoError(t, err)
	snap := loaded.Snapshot()
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "first", snap.Messages[0].Content)
	require.Equal(t, "second", snap.Messages[1].Content)
}

func TestLoadMissingFileReturnsFreshSession(t *testing.T) {
	dir := t.TempDir()
	st, err := Load(dir, "never-existed", nil)
	require.NoError(t, err)
	require.Equal(t, "never-existed", st.ID())
	require.Empty(t, st.Snapshot().Messages)
}

func TestSaveIsNoOpWhenNotDirty(t *testing.T) {
	dir := t.TempDir()
	st := New(types.NewSession("clean"), dir, nil)
	require.NoError(t, st.Save())

	path := filepath.Join(dir, "clean.ndjson")
	_, err := LoadFromPath(path)
	require.Error(t, err, "nothing should have been written for a session with no appended messages")
}
