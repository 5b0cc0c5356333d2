package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode distinguishes read access from write access — the two allow-lists
// are independent per spec.md §4.D.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Gate enforces the path-permission rule shared by every builtin
// file-touching tool: permit iff the resolved absolute path is within the
// workspace, the project, or an explicitly allow-listed prefix.
type Gate struct {
	ws         *Workspace
	readAllow  []string
	writeAllow []string
}

// NewGate builds a Gate over ws plus extra allow-listed prefixes.
func NewGate(ws *Workspace, readAllow, writeAllow []string) *Gate {
	return &Gate{ws: ws, readAllow: absAll(readAllow), writeAllow: absAll(writeAllow)}
}

func absAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			out = append(out, abs)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// Check resolves p under the workspace's worksite strategy and verifies it
// falls within an allowed prefix for mode. Returns the canonicalized
// absolute path on success, or an "access denied" error.
func (g *Gate) Check(p string, mode Mode) (string, error) {
	resolved := g.ws.Resolve(p)
	canon, err := canonicalize(resolved)
	if err != nil {
		return "", fmt.Errorf("access denied")
	}

	allow := append([]string{}, g.ws.Root)
	if g.ws.Project != "" {
		allow = append(allow, g.ws.Project)
	}
	if mode == ModeWrite {
		allow = append(allow, g.writeAllow...)
	} else {
		allow = append(allow, g.readAllow...)
	}

	for _, prefix := range allow {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		if withinPrefix(canon, absPrefix) {
			return canon, nil
		}
	}
	return "", fmt.Errorf("access denied")
}

func withinPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// canonicalize resolves symlinks on the fully-existing portion of path; if
// the leaf doesn't exist yet (e.g. a file about to be created), it
// canonicalizes the parent directory and reappends the leaf.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(abs)
	resolvedParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(abs)), nil
}
