// ABOUTME: Tracks live duplex connections for observability and shutdown.
// ABOUTME: Hands out Info snapshots only; session state never leaves its goroutine.

package supervisor

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/lynx-gateway/internal/session"
)

// ErrAlreadyRegistered indicates a connection with the same session ID is tracked.
var ErrAlreadyRegistered = errors.New("connection already registered")

// Manager coordinates all live connections.
type Manager struct {
	conns  map[string]*Connection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		conns:  make(map[string]*Connection),
		logger: logger,
	}
}

// Register adds a connection to the manager.
func (m *Manager) Register(c *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[c.info.ID]; exists {
		return ErrAlreadyRegistered
	}

	m.conns[c.info.ID] = c
	m.logger.Info("=== SESSION CONNECTED ===",
		"session_id", c.info.ID,
		"role", c.info.Role,
		"remote_addr", c.info.RemoteAddr,
		"total_sessions", len(m.conns),
	)
	return nil
}

// Unregister removes a connection from the manager.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, exists := m.conns[id]; exists {
		delete(m.conns, id)
		m.logger.Info("=== SESSION DISCONNECTED ===",
			"session_id", id,
			"role", c.info.Role,
			"subject", c.info.Subject,
			"total_sessions", len(m.conns),
		)
	}
}

// MarkAuthenticated records the subject a session authenticated as.
func (m *Manager) MarkAuthenticated(id, subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[id]; ok {
		c.info.Authenticated = true
		c.info.Subject = subject
	}
}

// Get returns a snapshot of one connection.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conns[id]
	if !ok {
		return Info{}, false
	}
	return c.info, true
}

// List returns snapshots of all connections, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.conns))
	for _, c := range m.conns {
		infos = append(infos, c.info)
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Count returns the number of live connections, optionally filtered by role.
func (m *Manager) Count(role session.Role) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if role == "" {
		return len(m.conns)
	}
	n := 0
	for _, c := range m.conns {
		if c.info.Role == role {
			n++
		}
	}
	return n
}

// connections returns the live connections for shutdown.
func (m *Manager) connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}
