// Package session implements the Session Store (spec.md §4.B): an in-memory
// append-only transcript with pluggable compaction and NDJSON persistence,
// generalized from the teacher's sessions.Store/BranchStore pair down to the
// single linear-history shape spec.md requires.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/agentd-run/agentd/internal/types"
)

// Summarizer produces a compaction summary for a run of messages. Concrete
// implementations live behind model-client or script-host calls; Store only
// depends on this narrow interface.
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.Message) (string, error)
}

// Store owns one Session's in-memory state plus its on-disk mirror.
type Store struct {
	mu      sync.Mutex
	session *types.Session
	dir     string
	dirty   bool
	logger  *slog.Logger
}

// New creates a Store for an existing in-memory session, rooted at dir for
// persistence (one file per session, named <id>.ndjson).
func New(s *types.Session, dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{session: s, dir: dir, logger: logger}
}

// Load reads id.ndjson from dir, or returns a fresh empty session if no file
// exists yet.
func Load(dir, id string, logger *slog.Logger) (*Store, error) {
	path := filepath.Join(dir, id+".ndjson")
	s, err := LoadFromPath(path)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		return New(types.NewSession(id), dir, logger), nil
	}
	return New(s, dir, logger), nil
}

// Append adds a message and marks the store dirty. Enforces invariant (a):
// no tool-reply message may be appended while its ToolCallID has no matching
// open tool call in the preceding history.
func (st *Store) Append(m types.Message) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if m.IsToolReply() {
		if _, ok := st.session.OpenToolCallIDs()[m.ToolCallID]; !ok {
			return fmt.Errorf("session: tool reply %q has no open tool call", m.ToolCallID)
		}
	}
	st.session.Append(m)
	st.dirty = true
	return nil
}

// TokenCount returns the fixed tokenizer's estimate for the current history.
func (st *Store) TokenCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Count(st.session)
}

// Snapshot returns an independent copy of the current session state.
func (st *Store) Snapshot() *types.Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.Clone()
}

// TruncateToLastN drops oldest messages until at most n remain, always
// preserving a leading system message if the original history had one.
func (st *Store) TruncateToLastN(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	msgs := st.session.Messages
	if len(msgs) <= n {
		return
	}
	var leadingSystem *types.Message
	if len(msgs) > 0 && msgs[0].Role == types.RoleSystem {
		m := msgs[0]
		leadingSystem = &m
	}
	tail := msgs[len(msgs)-n:]
	var out []types.Message
	if leadingSystem != nil && (len(tail) == 0 || tail[0].Role != types.RoleSystem) {
		out = append(out, *leadingSystem)
	}
	out = append(out, tail...)
	st.session.Messages = out
	st.dirty = true
}

// Compact replaces the full history with a summary record produced by
// summarizer, and increments the compaction counter. The record is the
// leading system prompt (if any, kept verbatim), the summary as a user
// message, and a fixed assistant acknowledgement of it.
func (st *Store) Compact(ctx context.Context, summarizer Summarizer) error {
	st.mu.Lock()
	msgs := append([]types.Message(nil), st.session.Messages...)
	st.mu.Unlock()

	summary, err := summarizer.Summarize(ctx, msgs)
	if err != nil {
		return fmt.Errorf("session: compact: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var system *types.Message
	if len(st.session.Messages) > 0 && st.session.Messages[0].Role == types.RoleSystem {
		m := st.session.Messages[0]
		system = &m
	}

	var replacement []types.Message
	if system != nil {
		replacement = append(replacement, *system)
	}
	replacement = append(replacement,
		types.Message{Role: types.RoleUser, Content: summary},
		types.Message{Role: types.RoleAssistant, Content: "Acknowledged prior context summary."},
	)
	st.session.Messages = replacement
	st.session.Meta.CompactionCount++
	st.dirty = true
	st.logger.Info("session compacted", "session_id", st.session.ID, "compaction_count", st.session.Meta.CompactionCount)
	return nil
}

// Save persists the session to dir/<id>.ndjson if dirty, or does nothing
// otherwise. On failure the in-memory session is left untouched and the
// caller is informed; a later Save attempt remains idempotent.
func (st *Store) Save() error {
	st.mu.Lock()
	if !st.dirty {
		st.mu.Unlock()
		return nil
	}
	path := filepath.Join(st.dir, st.session.ID+".ndjson")
	s := st.session.Clone()
	st.mu.Unlock()

	if err := SaveToPath(s, path); err != nil {
		st.logger.Warn("session save failed, will retry on next checkpoint", "session_id", s.ID, "error", err)
		return err
	}

	st.mu.Lock()
	st.dirty = false
	st.mu.Unlock()
	return nil
}

// ID returns the underlying session's identifier.
func (st *Store) ID() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.ID
}

// Dirty reports whether the in-memory session has unsaved changes.
func (st *Store) Dirty() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dirty
}

// Clear resets the session to an empty history, preserving its ID and
// SystemContext. Used by the owner's in-band "!clear" control and by the
// Turn Controller when forcing a fresh session for a Stateless turn.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.session.Messages = nil
	st.session.Meta = types.SessionMeta{}
	st.dirty = true
}
