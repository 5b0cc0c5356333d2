// Package debounce implements the Debounce Manager (spec.md §4.K): a
// per-source coalescing buffer sitting between the Ingress Bus and the Turn
// Controller, directly adapted from the teacher's generic Debouncer[T] in
// internal/debounce/inbound.go down to spec.md's ingest/flush_ready/
// flush_all contract over IngressEvent.
package debounce

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentd-run/agentd/internal/types"
)

const (
	// DefaultMaxCount is the buffer-size threshold that marks a source
	// ready regardless of elapsed time.
	DefaultMaxCount = 50
	// DefaultMaxChars is the concatenated-payload-size threshold that
	// marks a source ready regardless of elapsed time.
	DefaultMaxChars = 100_000
	// DefaultDebounceSeconds is how long a source must sit idle before
	// flush_ready considers it due.
	DefaultDebounceSeconds = 3
)

// buffer holds the pending events for one source.
type buffer struct {
	items      []types.IngressEvent
	lastUpdate time.Time
}

func (b *buffer) totalChars() int {
	n := 0
	for _, e := range b.items {
		n += len(e.Payload)
	}
	return n
}

// Config tunes the coalescing thresholds.
type Config struct {
	MaxCount        int
	MaxChars        int
	DebounceSeconds int
}

// DefaultConfig returns spec.md's default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxCount:        DefaultMaxCount,
		MaxChars:        DefaultMaxChars,
		DebounceSeconds: DefaultDebounceSeconds,
	}
}

// Manager coalesces IngressEvents per source.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	buffers map[string]*buffer
}

// New creates a Manager with cfg (zero-value fields fall back to defaults).
func New(cfg Config) *Manager {
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = DefaultMaxCount
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.DebounceSeconds <= 0 {
		cfg.DebounceSeconds = DefaultDebounceSeconds
	}
	return &Manager{cfg: cfg, buffers: make(map[string]*buffer)}
}

// Ingest appends e to its source's buffer. If the buffer crosses a max-count
// or max-chars threshold, the buffer is marked ready immediately by
// back-dating last_update far enough that the next flush_ready call will
// pick it up.
func (m *Manager) Ingest(e types.IngressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[e.Source]
	if !ok {
		b = &buffer{}
		m.buffers[e.Source] = b
	}
	b.items = append(b.items, e)
	b.lastUpdate = time.Now()

	if len(b.items) >= m.cfg.MaxCount || b.totalChars() >= m.cfg.MaxChars {
		b.lastUpdate = time.Time{}
	}
}

// FlushReady returns one combined event per source whose buffer has sat
// idle at least DebounceSeconds as of now, removing those sources' buffers.
func (m *Manager) FlushReady(now time.Time) []types.IngressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := time.Duration(m.cfg.DebounceSeconds) * time.Second
	var out []types.IngressEvent
	for source, b := range m.buffers {
		if now.Sub(b.lastUpdate) >= threshold {
			out = append(out, combine(source, b.items))
			delete(m.buffers, source)
		}
	}
	return out
}

// FlushAll drains every buffered source unconditionally, regardless of
// elapsed time.
func (m *Manager) FlushAll() []types.IngressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.IngressEvent
	for source, b := range m.buffers {
		out = append(out, combine(source, b.items))
		delete(m.buffers, source)
	}
	return out
}

// combine merges a source's buffered events per spec.md §4.K: payloads
// joined with "\n\n", images concatenated in order, earliest timestamp, a
// fresh uuid, and the first event's trust level.
func combine(source string, items []types.IngressEvent) types.IngressEvent {
	if len(items) == 0 {
		return types.IngressEvent{Source: source}
	}

	payloads := make([]string, 0, len(items))
	var images []types.ImageAttachment
	earliest := items[0].Timestamp
	for _, e := range items {
		payloads = append(payloads, e.Payload)
		images = append(images, e.Images...)
		if e.Timestamp.Before(earliest) {
			earliest = e.Timestamp
		}
	}

	return types.IngressEvent{
		ID:        uuid.NewString(),
		Source:    source,
		Payload:   joinDoubleNewline(payloads),
		Trust:     items[0].Trust,
		Timestamp: earliest,
		Images:    images,
	}
}

func joinDoubleNewline(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}
