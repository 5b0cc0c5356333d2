package types

import "time"

// SessionMeta carries the scalar bookkeeping that accompanies a session's
// message history: compaction count and cumulative token totals.
type SessionMeta struct {
	CompactionCount    int       `json:"compaction_count"`
	CumulativeInput    int       `json:"cumulative_input_tokens"`
	CumulativeOutput   int       `json:"cumulative_output_tokens"`
	LastMemoryFlushAt  time.Time `json:"last_memory_flush_at,omitempty"`
}

// Session is the append-only conversation history for one ingress source.
//
// Invariants (spec.md §3):
//
//	(a) append-only in steady state — Compact and Clear are the only
//	    operations that shrink Messages;
//	(b) TokenCount is a pure function of SystemContext plus every
//	    Message's content;
//	(c) after any append, the session is eventually persisted before the
//	    next turn starts on the same ID.
type Session struct {
	ID            string    `json:"id"`
	SystemContext string    `json:"system_context,omitempty"`
	Messages      []Message `json:"messages"`
	Meta          SessionMeta `json:"meta"`
}

// NewSession creates an empty session with the given id.
func NewSession(id string) *Session {
	return &Session{ID: id}
}

// Append adds a message to the end of the history. The caller is
// responsible for sanitizing untrusted content before it reaches Append —
// the session stores content as-is.
func (s *Session) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// Clone returns a deep-enough copy safe for a reader to hold onto while the
// original session continues mutating (used by chat engine snapshots).
func (s *Session) Clone() *Session {
	out := &Session{
		ID:            s.ID,
		SystemContext: s.SystemContext,
		Meta:          s.Meta,
		Messages:      make([]Message, len(s.Messages)),
	}
	copy(out.Messages, s.Messages)
	return out
}

// OpenToolCallIDs returns the set of tool-call IDs from assistant messages
// that have not yet been answered by a tool-role message in the tail of the
// history. Used by Chat Engine resume to detect already-answered calls.
func (s *Session) OpenToolCallIDs() map[string]ToolCall {
	open := make(map[string]ToolCall)
	for _, m := range s.Messages {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				open[tc.ID] = tc
			}
		case RoleTool:
			delete(open, m.ToolCallID)
		}
	}
	return open
}
