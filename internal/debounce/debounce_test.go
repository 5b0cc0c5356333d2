package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/types"
)

func TestFlushReadyWaitsForIdleThreshold(t *testing.T) {
	m := New(Config{DebounceSeconds: 3})
	now := time.Now()
	m.Ingest(types.IngressEvent{Source: "cli:owner", Payload: "hello", Timestamp: now, Trust: types.OwnerCommand})

	require.Empty(t, m.FlushReady(now.Add(1*time.Second)))

	flushed := m.FlushReady(now.Add(4 * time.Second))
	require.Len(t, flushed, 1)
	require.Equal(t, "hello", flushed[0].Payload)
}

func TestIngestConcatenatesPayloadsInOrder(t *testing.T) {
	m := New(Config{DebounceSeconds: 3})
	base := time.Now()
	m.Ingest(types.IngressEvent{Source: "telegram:1", Payload: "first", Timestamp: base, Trust: types.TrustedEvent})
	m.Ingest(types.IngressEvent{Source: "telegram:1", Payload: "second", Timestamp: base.Add(time.Second), Trust: types.TrustedEvent})

	flushed := m.FlushReady(base.Add(10 * time.Second))
	require.Len(t, flushed, 1)
	require.Equal(t, "first\n\nsecond", flushed[0].Payload)
	require.Equal(t, base, flushed[0].Timestamp)
}

func TestMaxCountMarksBufferReadyImmediately(t *testing.T) {
	m := New(Config{DebounceSeconds: 3, MaxCount: 2})
	now := time.Now()
	m.Ingest(types.IngressEvent{Source: "s", Payload: "a", Timestamp: now})
	m.Ingest(types.IngressEvent{Source: "s", Payload: "b", Timestamp: now})

	flushed := m.FlushReady(now)
	require.Len(t, flushed, 1, "crossing max count should back-date last_update so it's immediately ready")
}

func TestMaxCharsMarksBufferReadyImmediately(t *testing.T) {
	m := New(Config{DebounceSeconds: 3, MaxChars: 5})
	now := time.Now()
	m.Ingest(types.IngressEvent{Source: "s", Payload: "123456", Timestamp: now})

	flushed := m.FlushReady(now)
	require.Len(t, flushed, 1)
}

func TestFlushAllDrainsUnconditionally(t *testing.T) {
	m := New(Config{DebounceSeconds: 300})
	now := time.Now()
	m.Ingest(types.IngressEvent{Source: "a", Payload: "x", Timestamp: now})
	m.Ingest(types.IngressEvent{Source: "b", Payload: "y", Timestamp: now})

	require.Empty(t, m.FlushReady(now))
	flushed := m.FlushAll()
	require.Len(t, flushed, 2)
}

func TestFirstEventTrustIsPreserved(t *testing.T) {
	m := New(Config{DebounceSeconds: 1})
	now := time.Now()
	m.Ingest(types.IngressEvent{Source: "s", Payload: "a", Timestamp: now, Trust: types.OwnerCommand})
	m.Ingest(types.IngressEvent{Source: "s", Payload: "b", Timestamp: now, Trust: types.OwnerCommand})

	flushed := m.FlushAll()
	require.Equal(t, types.OwnerCommand, flushed[0].Trust)
}
