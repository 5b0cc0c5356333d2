package session

import "github.com/agentd-run/agentd/internal/types"

// approxTokensPerChar is the fixed heuristic ratio used by Count. Provider
// tokenizers are BPE-specific and not needed for the budget predicates the
// Chat Engine evaluates (soft/hard thresholds) — the teacher does not carry
// a token library either; a deterministic rune-based estimate is the
// grounded, stdlib-only choice here (see DESIGN.md).
const approxTokensPerChar = 0.25

// Count is the fixed tokenizer: a pure function of the system context plus
// every message's content, satisfying Session invariant (b).
func Count(s *types.Session) int {
	if s == nil {
		return 0
	}
	total := len([]rune(s.SystemContext))
	for _, m := range s.Messages {
		total += len([]rune(m.Content))
		for _, tc := range m.ToolCalls {
			total += len(tc.Arguments)
		}
	}
	return int(float64(total) * approxTokensPerChar)
}
