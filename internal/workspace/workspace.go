// Package workspace resolves well-known paths inside the daemon's workspace
// root and implements the path-permission gate shared by builtin tools
// (spec.md §4.D), generalized from the teacher's workspace resolver.
package workspace

import (
	"path/filepath"
	"strings"
)

// Strategy selects how a tool-supplied path maps to workspace vs. project.
type Strategy int

const (
	// StrategyOverlay resolves cognitive files and memory/ under workspace;
	// everything else under project.
	StrategyOverlay Strategy = iota
	// StrategyMount resolves project/-prefixed paths under project;
	// everything else under workspace.
	StrategyMount
)

// cognitiveFiles is the closed set of well-known workspace file names that
// always resolve under the workspace root in overlay mode.
var cognitiveFiles = map[string]bool{
	"IDENTITY.md":  true,
	"USER.md":      true,
	"SOUL.md":      true,
	"AGENTS.md":    true,
	"TOOLS.md":     true,
	"MEMORY.md":    true,
	"HEARTBEAT.md": true,
	"BOOTSTRAP.md": true,
}

// Workspace describes the daemon's on-disk layout.
type Workspace struct {
	Root     string
	Project  string
	Strategy Strategy
}

// New constructs a Workspace rooted at root, optionally paired with a
// project directory for the mount/overlay strategies.
func New(root, project string, strategy Strategy) *Workspace {
	return &Workspace{Root: root, Project: project, Strategy: strategy}
}

// MemoryDir returns the workspace's memory/ subtree, used for daily logs.
func (w *Workspace) MemoryDir() string { return filepath.Join(w.Root, "memory") }

// AttachmentsDir returns the workspace's attachments/ subtree.
func (w *Workspace) AttachmentsDir() string { return filepath.Join(w.Root, "attachments") }

// ArtifactsDir returns the workspace's artifacts/ subtree.
func (w *Workspace) ArtifactsDir() string { return filepath.Join(w.Root, "artifacts") }

// WellKnownPath joins name under the workspace root.
func (w *Workspace) WellKnownPath(name string) string { return filepath.Join(w.Root, name) }

// Resolve maps a tool-supplied path to an absolute filesystem path per the
// configured worksite strategy.
func (w *Workspace) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	switch w.Strategy {
	case StrategyMount:
		if rest, ok := strings.CutPrefix(p, "project/"); ok {
			return filepath.Join(w.Project, rest)
		}
		return filepath.Join(w.Root, p)
	default: // StrategyOverlay
		base := filepath.Base(p)
		if cognitiveFiles[base] || strings.HasPrefix(p, "memory/") {
			return filepath.Join(w.Root, p)
		}
		if w.Project != "" {
			return filepath.Join(w.Project, p)
		}
		return filepath.Join(w.Root, p)
	}
}
