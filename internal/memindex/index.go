// Package memindex backs the CLI's memory search/reindex/stats subcommands
// with an FTS5 full-text index over a workspace's durable-memory files,
// grounded on the teacher's internal/memory/backend/sqlitevec backend
// (database/sql over modernc.org/sqlite, schema created idempotently in an
// init step), narrowed from its vector-embedding schema down to a plain
// text index since spec.md's memory ops are search/reindex/stats, not
// embedding-based recall.
package memindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"

	"github.com/agentd-run/agentd/internal/workspace"
)

// Index is a SQLite FTS5 full-text index over a workspace's well-known
// files and memory/ daily logs.
type Index struct {
	db   *sql.DB
	path string
}

// Open creates or opens the index database at path, creating its schema if
// missing.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("memindex: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memindex: open: %w", err)
	}
	idx := &Index{db: db, path: path}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) init() error {
	_, err := idx.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(path, content);
		CREATE TABLE IF NOT EXISTS memory_meta (
			path TEXT PRIMARY KEY,
			indexed_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("memindex: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// Result is one matched document.
type Result struct {
	Path    string
	Snippet string
}

// Search runs an FTS5 match query, returning up to limit results ranked by
// relevance.
func (idx *Index) Search(query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := idx.db.Query(
		`SELECT path, snippet(memory_fts, 1, '[', ']', '...', 12)
		   FROM memory_fts WHERE memory_fts MATCH ? ORDER BY rank LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memindex: search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Path, &r.Snippet); err != nil {
			return nil, fmt.Errorf("memindex: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reindex clears and rebuilds the index from ws's well-known files and
// memory/ daily logs. It never fails the caller on an individual unreadable
// file — those are skipped, matching the Memory Context Builder's own
// missing-file tolerance.
func (idx *Index) Reindex(ws *workspace.Workspace) (int, error) {
	tx, err := idx.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("memindex: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_fts`); err != nil {
		return 0, fmt.Errorf("memindex: clear: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM memory_meta`); err != nil {
		return 0, fmt.Errorf("memindex: clear meta: %w", err)
	}

	now := time.Now().UTC()
	count := 0
	for _, name := range wellKnownFiles {
		path := ws.WellKnownPath(name)
		if err := indexFile(tx, path, name, now); err == nil {
			count++
		}
	}

	entries, err := os.ReadDir(ws.MemoryDir())
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			rel := filepath.Join("memory", e.Name())
			if err := indexFile(tx, filepath.Join(ws.MemoryDir(), e.Name()), rel, now); err == nil {
				count++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("memindex: commit: %w", err)
	}
	return count, nil
}

var wellKnownFiles = []string{
	"IDENTITY.md", "USER.md", "SOUL.md", "AGENTS.md",
	"TOOLS.md", "MEMORY.md", "HEARTBEAT.md", "BOOTSTRAP.md",
}

func indexFile(tx *sql.Tx, path, label string, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO memory_fts (path, content) VALUES (?, ?)`, label, string(data)); err != nil {
		return fmt.Errorf("memindex: insert %q: %w", label, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO memory_meta (path, indexed_at) VALUES (?, ?)`, label, now); err != nil {
		return fmt.Errorf("memindex: insert meta %q: %w", label, err)
	}
	return nil
}

// Stats reports basic index health.
type Stats struct {
	DocumentCount int
	LastIndexedAt time.Time
}

// Stats queries the index for document count and the most recent reindex
// timestamp.
func (idx *Index) Stats() (Stats, error) {
	var s Stats
	row := idx.db.QueryRow(`SELECT COUNT(*) FROM memory_meta`)
	if err := row.Scan(&s.DocumentCount); err != nil {
		return Stats{}, fmt.Errorf("memindex: count: %w", err)
	}
	row = idx.db.QueryRow(`SELECT MAX(indexed_at) FROM memory_meta`)
	var raw sql.NullTime
	if err := row.Scan(&raw); err != nil {
		return Stats{}, fmt.Errorf("memindex: last indexed: %w", err)
	}
	if raw.Valid {
		s.LastIndexedAt = raw.Time
	}
	return s, nil
}
