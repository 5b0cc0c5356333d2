// Package sandbox implements the Sandboxed One-shot Runner (spec.md §4.G):
// a per-invocation external-executable runner composing an OS sandbox
// profile from policy, grounded on the teacher's
// internal/tools/exec/manager.go subprocess-capture pattern. The
// Daytona/Firecracker cloud-sandbox backends the teacher also carries are
// NOT wired here (see DESIGN.md) — spec.md scopes sandbox *profile text*
// itself out as an external collaborator; only profile composition
// (allow-list prefixes → temp file) is in scope, grounded on the teacher's
// internal/tools/sandbox/workspace.go path-prefix handling.
package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Policy is the allow-list composed into an OS sandbox profile for one
// invocation.
type Policy struct {
	ReadPrefixes  []string
	WritePrefixes []string
	AllowNetwork  bool
	AllowEnv      bool
}

// Profile is a written sandbox-profile temp file. Its lifetime is tied to
// the caller holding it — Close removes the file, mirroring the RAII
// discipline spec.md requires so the profile outlives the child but never
// the caller's handle.
type Profile struct {
	Path string
}

// Write composes policy into the platform's sandbox-profile syntax and
// writes it to a fresh temp file named by a uuid. Supported returns false
// on platforms with no known OS sandbox wrapper; callers on such platforms
// fall back to unsandboxed spawn with a warning, per spec.md.
func Write(dir string, policy Policy) (*Profile, bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("sandbox: profile dir: %w", err)
	}

	body, supported := renderProfile(policy)
	if !supported {
		return nil, false, nil
	}

	path := filepath.Join(dir, fmt.Sprintf("agentd-sandbox-%s.profile", uuid.NewString()[:8]))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return nil, false, fmt.Errorf("sandbox: write profile: %w", err)
	}
	return &Profile{Path: path}, true, nil
}

// Close removes the profile's temp file.
func (p *Profile) Close() error {
	if p == nil {
		return nil
	}
	return os.Remove(p.Path)
}

// Wrapper returns the command + leading args that invoke the OS sandbox
// wrapper around target, or (nil, false) when unsupported on this
// platform.
func Wrapper(profile *Profile, target string, args []string) ([]string, bool) {
	switch runtime.GOOS {
	case "darwin":
		return append([]string{"sandbox-exec", "-f", profile.Path, target}, args...), true
	case "linux":
		if _, err := lookupBwrap(); err == nil {
			return append([]string{"bwrap", "--profile", profile.Path, target}, args...), true
		}
		return nil, false
	default:
		return nil, false
	}
}

func renderProfile(policy Policy) (string, bool) {
	switch runtime.GOOS {
	case "darwin":
		return renderSandboxExecProfile(policy), true
	case "linux":
		return renderBwrapProfile(policy), true
	default:
		return "", false
	}
}

// renderSandboxExecProfile emits a minimal Apple sandbox-exec (Scheme-like)
// profile honoring the read/write/network allow-lists.
func renderSandboxExecProfile(policy Policy) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n")
	for _, p := range policy.ReadPrefixes {
		fmt.Fprintf(&b, "(allow file-read* (subpath %q))\n", p)
	}
	for _, p := range policy.WritePrefixes {
		fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", p)
	}
	if policy.AllowNetwork {
		b.WriteString("(allow network*)\n")
	}
	return b.String()
}

// renderBwrapProfile emits a simple newline-delimited description of bind
// mounts consumed by a thin bwrap-invoking wrapper script; bwrap itself
// takes flags rather than a profile file, so this is an intermediate
// representation the wrapper command translates to --ro-bind/--bind flags.
func renderBwrapProfile(policy Policy) string {
	var b strings.Builder
	for _, p := range policy.ReadPrefixes {
		fmt.Fprintf(&b, "ro-bind %s\n", p)
	}
	for _, p := range policy.WritePrefixes {
		fmt.Fprintf(&b, "bind %s\n", p)
	}
	if policy.AllowNetwork {
		b.WriteString("share-net\n")
	}
	return b.String()
}

func lookupBwrap() (string, error) {
	return exec.LookPath("bwrap")
}
