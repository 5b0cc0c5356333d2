// Package memory implements the Memory Context Builder (spec.md §4.C): a
// read-only assembler of the durable-knowledge preamble from a fixed set of
// well-known workspace files, generalized from the teacher's layered
// system-prompt assembly down to spec.md's eight-file, fixed-order shape.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentd-run/agentd/internal/workspace"
)

// wellKnownFile pairs a workspace file name with the delimiter source label
// sanitization rules key on.
type wellKnownFile struct {
	name   string
	source string
}

// fixedOrder is the read order spec.md §4.C mandates: identity,
// user-profile, persona, agent-list, tool-notes, durable memory, then the
// recent-daily-logs and pending-tasks steps are appended separately below.
var fixedOrder = []wellKnownFile{
	{"IDENTITY.md", "identity"},
	{"USER.md", "user-profile"},
	{"SOUL.md", "persona"},
	{"AGENTS.md", "agent-list"},
	{"TOOLS.md", "tool-notes"},
	{"MEMORY.md", "durable-memory"},
}

// recentDailyLogs is how many memory/YYYY-MM-DD*.md files to include, most
// recent first.
const recentDailyLogs = 3

const welcomeMessage = "This appears to be a first run: no durable memory file exists yet. " +
	"Use the workspace's well-known files to record identity, user preferences, and durable facts over time."

// Builder assembles the "# Workspace Context" preamble.
type Builder struct {
	ws *workspace.Workspace
}

// New creates a Builder over ws.
func New(ws *workspace.Workspace) *Builder {
	return &Builder{ws: ws}
}

// Build reads the well-known files in fixed order and returns the assembled
// context string. Never fails the turn: missing files are silently skipped
// and any read error is treated the same as "missing".
func (b *Builder) Build() string {
	var sections []string

	memoryExists := fileExists(b.ws.WellKnownPath("MEMORY.md"))
	if !memoryExists {
		sections = append(sections, wrap("welcome", welcomeMessage))
	}

	for _, f := range fixedOrder {
		content, ok := readFile(b.ws.WellKnownPath(f.name))
		if !ok {
			continue
		}
		sections = append(sections, wrap(f.source, content))
	}

	if logs := b.recentDailyLogEntries(); logs != "" {
		sections = append(sections, wrap("daily-logs", logs))
	}

	if pending, ok := readFile(b.ws.WellKnownPath("PENDING_TASKS.md")); ok {
		sections = append(sections, wrap("pending-tasks", pending))
	}

	if len(sections) == 0 {
		return ""
	}
	return "# Workspace Context\n\n" + strings.Join(sections, "\n\n")
}

// recentDailyLogEntries concatenates the most recent daily log files under
// memory/, newest first, up to recentDailyLogs entries.
func (b *Builder) recentDailyLogEntries() string {
	dir := b.ws.MemoryDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasSuffix(n, ".md") && len(n) >= len("YYYY-MM-DD") {
			if _, err := time.Parse("2006-01-02", n[:10]); err == nil {
				names = append(names, n)
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > recentDailyLogs {
		names = names[:recentDailyLogs]
	}

	var parts []string
	for _, n := range names {
		content, ok := readFile(filepath.Join(dir, n))
		if !ok {
			continue
		}
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n\n")
}

func readFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func wrap(source, content string) string {
	return fmt.Sprintf("<workspace-context source=%q>\n%s\n</workspace-context>", source, strings.TrimRight(content, "\n"))
}
