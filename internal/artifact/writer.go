// Package artifact writes the persisted output of non-interactive turns
// (spec.md §6): YAML-front-matter Markdown files named
// <utc-ts>__<source>__<8-hex>.md under the workspace's artifacts/ directory.
package artifact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentd-run/agentd/internal/types"
)

// Writer persists Artifacts as Markdown files with a YAML front-matter
// header under a fixed directory.
type Writer struct {
	dir string
}

// New creates a Writer rooted at dir (typically workspace.ArtifactsDir()).
func New(dir string) *Writer {
	return &Writer{dir: dir}
}

var unsafeSourceChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Write assigns a.ID and a.CreatedAt if unset, renders the front-matter +
// body, and writes it to <utc-ts>__<sanitized-source>__<8-hex>.md. It
// returns the full path written.
func (w *Writer) Write(a types.Artifact) (string, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	suffix, err := randomHex(4)
	if err != nil {
		return "", fmt.Errorf("artifact: generate suffix: %w", err)
	}
	if a.ID == "" {
		a.ID = suffix
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create dir: %w", err)
	}

	front, err := yaml.Marshal(struct {
		ID        string           `yaml:"id"`
		Type      string           `yaml:"type"`
		Source    string           `yaml:"source_job"`
		Trust     types.TrustLevel `yaml:"trust_level"`
		Model     string           `yaml:"model"`
		CreatedAt time.Time        `yaml:"created_at"`
	}{a.ID, a.Type, a.Source, a.Trust, a.Model, a.CreatedAt})
	if err != nil {
		return "", fmt.Errorf("artifact: marshal front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	b.WriteString(a.Content)

	name := fmt.Sprintf("%s__%s__%s.md",
		a.CreatedAt.Format("20060102T150405Z"),
		sanitizeSource(a.Source),
		suffix,
	)
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("artifact: write file: %w", err)
	}
	return path, nil
}

func sanitizeSource(source string) string {
	if source == "" {
		return "unknown"
	}
	return unsafeSourceChars.ReplaceAllString(source, "-")
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
