package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/types"
)

func TestGetOrCreateCachesHandle(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	st1, err := m.GetOrCreate("cli:owner")
	require.NoError(t, err)
	st2, err := m.GetOrCreate("cli:owner")
	require.NoError(t, err)
	require.Same(t, st1, st2)
}

func TestGetReturnsFalseForUnknownSource(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	_, ok := m.Get("never-created")
	require.False(t, ok)
}

func TestSweepPersistsDirtyHandles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	st, err := m.GetOrCreate("telegram:123")
	require.NoError(t, err)
	require.NoError(t, st.Append(types.Message{Role: types.RoleUser, Content: "hi"}))
	require.True(t, st.Dirty())

	m.sweep()
	require.False(t, st.Dirty())

	reloaded, err := Load(dir, "telegram:123", nil)
	require.NoError(t, err)
	require.Len(t, reloaded.Snapshot().Messages, 1)
}
