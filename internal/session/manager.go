package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweepInterval is how often Manager checkpoints dirty sessions in the
// background, per spec.md §4.O.
const sweepInterval = 60 * time.Second

// Manager is the Global Session Manager (spec.md §4.O): a source-keyed
// registry of Stores plus a background sweep that saves dirty sessions
// without blocking an in-flight turn.
type Manager struct {
	mu      sync.Mutex
	dir     string
	logger  *slog.Logger
	handles map[string]*Store

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a Manager rooted at dir for session persistence.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:     dir,
		logger:  logger,
		handles: make(map[string]*Store),
		stop:    make(chan struct{}),
	}
}

// GetOrCreate returns the Store for source, loading it from disk on first
// use and caching the handle for the lifetime of the daemon.
func (m *Manager) GetOrCreate(source string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.handles[source]; ok {
		return st, nil
	}
	st, err := Load(m.dir, source, m.logger)
	if err != nil {
		return nil, err
	}
	m.handles[source] = st
	return st, nil
}

// Get returns the existing Store for source, if one has been created.
func (m *Manager) Get(source string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.handles[source]
	return st, ok
}

// Start launches the background sweep goroutine. Stop must be called to
// release it.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.sweep()
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Stop halts the background sweep and performs one final checkpoint.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
	m.sweep()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	stores := make([]*Store, 0, len(m.handles))
	for _, st := range m.handles {
		stores = append(stores, st)
	}
	m.mu.Unlock()

	for _, st := range stores {
		if !st.Dirty() {
			continue
		}
		if err := st.Save(); err != nil {
			m.logger.Warn("background session checkpoint failed", "session_id", st.ID(), "error", err)
		}
	}
}
