package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleCeiling is how long an unused connection may sit before the
// background reaper shuts it down.
const DefaultIdleCeiling = 600 * time.Second

// reaperTick is how often the background reaper scans for idle servers.
const reaperTick = 60 * time.Second

// handle pairs a live transport with its last-used instant for the idle
// reaper.
type handle struct {
	t        *transport
	lastUsed time.Time
}

// Manager keyed manages a set of long-lived MCP child processes.
type Manager struct {
	mu      sync.Mutex
	configs map[string]ServerConfig
	clients map[string]*handle
	logger  *slog.Logger

	idleCeiling time.Duration
	stop        chan struct{}
	wg          sync.WaitGroup
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configs:     make(map[string]ServerConfig),
		clients:     make(map[string]*handle),
		logger:      logger,
		idleCeiling: DefaultIdleCeiling,
		stop:        make(chan struct{}),
	}
}

// Initialize registers logical name → spawn descriptor for every config.
func (m *Manager) Initialize(configs []ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range configs {
		m.configs[c.ID] = c
	}
}

// StartReaper launches the background idle reaper.
func (m *Manager) StartReaper() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(reaperTick)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}()
}

// StopReaper halts the background reaper.
func (m *Manager) StopReaper() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) reapIdle() {
	now := time.Now()
	m.mu.Lock()
	var stale []string
	var staleHandles []*handle
	for name, h := range m.clients {
		if h.t.exited() || now.Sub(h.lastUsed) > m.idleCeiling {
			stale = append(stale, name)
			staleHandles = append(staleHandles, h)
		}
	}
	for _, name := range stale {
		delete(m.clients, name)
	}
	m.mu.Unlock()

	for i, name := range stale {
		m.logger.Info("mcp: reaping idle or exited server", "server", name)
		staleHandles[i].t.close()
	}
}

// Ensure is idempotent: if name is live, refreshes last-used; otherwise
// spawns it, performs the initialize handshake, and registers it.
//
// Concurrency race: two Ensure calls for the same name that both miss the
// cache may spawn twice. The loser (the one that loses the race for the
// write lock after handshake) shuts down its own redundant process and
// refreshes last-used on the surviving entry.
func (m *Manager) Ensure(ctx context.Context, name string) error {
	m.mu.Lock()
	if h, ok := m.clients[name]; ok && h.t.isConnected() {
		h.lastUsed = time.Now()
		m.mu.Unlock()
		return nil
	}
	cfg, ok := m.configs[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mcp: unknown server %q", name)
	}

	t := newTransport(cfg, m.logger)
	handshakeCtx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	defer cancel()

	if err := t.connect(handshakeCtx); err != nil {
		return fmt.Errorf("mcp: connect %q: %w", name, err)
	}
	if err := m.handshake(handshakeCtx, t); err != nil {
		t.close()
		return fmt.Errorf("mcp: handshake %q: %w", name, err)
	}

	m.mu.Lock()
	if existing, ok := m.clients[name]; ok && existing.t.isConnected() {
		existing.lastUsed = time.Now()
		m.mu.Unlock()
		t.close() // lost the race: this transport is redundant
		return nil
	}
	m.clients[name] = &handle{t: t, lastUsed: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *Manager) handshake(ctx context.Context, t *transport) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "agentd", Version: "1"},
	}
	if _, err := t.call(ctx, "initialize", params, DefaultHandshakeTimeout); err != nil {
		return err
	}
	return t.notify("notifications/initialized", nil)
}

// ListTools calls the named server's "tools/list" and returns its tools
// array.
func (m *Manager) ListTools(ctx context.Context, name string) ([]Tool, error) {
	if err := m.Ensure(ctx, name); err != nil {
		return nil, err
	}
	t, err := m.transportFor(name)
	if err != nil {
		return nil, err
	}
	raw, err := t.call(ctx, "tools/list", nil, 0)
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp: decode tools/list: %w", err)
	}
	return result.Tools, nil
}

// Call issues method against the named server with the given params.
func (m *Manager) Call(ctx context.Context, name, method string, params any) (json.RawMessage, error) {
	if err := m.Ensure(ctx, name); err != nil {
		return nil, err
	}
	t, err := m.transportFor(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if h, ok := m.clients[name]; ok {
		h.lastUsed = time.Now()
	}
	m.mu.Unlock()
	return t.call(ctx, method, params, 0)
}

func (m *Manager) transportFor(name string) (*transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.clients[name]
	if !ok {
		return nil, fmt.Errorf("mcp: server %q not connected", name)
	}
	return h.t, nil
}

// Shutdown signals the reader, kills the child, awaits exit, and drops the
// entry for name.
func (m *Manager) Shutdown(name string) {
	m.mu.Lock()
	h, ok := m.clients[name]
	if ok {
		delete(m.clients, name)
	}
	m.mu.Unlock()
	if ok {
		h.t.close()
	}
}

// ShutdownAll shuts down every connected server.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.Shutdown(name)
	}
}
