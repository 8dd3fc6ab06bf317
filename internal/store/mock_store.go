// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	accounts   map[string]*Account // keyed by UUID
	byUsername map[string]string   // username -> UUID
	agents     map[string]*Agent   // keyed by UUID

	// PingErr is returned by Ping when set.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts:   make(map[string]*Account),
		byUsername: make(map[string]string),
		agents:     make(map[string]*Agent),
	}
}

// IssueNewSubject stores a new account under a generated UUID.
func (m *MockStore) IssueNewSubject(ctx context.Context, fields AccountFields) (string, error) {
	now := time.Now().UTC()
	account := &Account{
		UUID:         uuid.New().String(),
		Username:     fields.Username,
		Email:        fields.Email,
		PasswordHash: fields.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.CreateAccount(ctx, account); err != nil {
		return "", err
	}
	return account.UUID, nil
}

// CreateAccount stores a new account.
func (m *MockStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[account.Username]; exists {
		return ErrUsernameExists
	}
	if _, exists := m.accounts[account.UUID]; exists {
		return ErrUsernameExists
	}

	// Make a copy to avoid external modification
	a := *account
	m.accounts[a.UUID] = &a
	m.byUsername[a.Username] = a.UUID
	return nil
}

// GetAccount retrieves an account by UUID.
func (m *MockStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// GetAccountByUsername retrieves an account by username.
func (m *MockStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	m.mu.RLock()
	id, ok := m.byUsername[username]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetAccount(ctx, id)
}

// ResolveBySubject looks up the account a subject names.
func (m *MockStore) ResolveBySubject(ctx context.Context, subject string) (*Account, error) {
	return m.GetAccount(ctx, subject)
}

// CreateAgent stores a new agent. The owner must exist.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[agent.OwnerUUID]; !ok {
		return ErrNotFound
	}
	a := *agent
	m.agents[a.UUID] = &a
	return nil
}

// GetAgent retrieves an agent by UUID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// ListAgents returns the agents owned by ownerUUID, oldest first.
func (m *MockStore) ListAgents(ctx context.Context, ownerUUID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := []*Agent{}
	for _, a := range m.agents {
		if a.OwnerUUID == ownerUUID {
			copied := *a
			agents = append(agents, &copied)
		}
	}

	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].UUID < agents[j].UUID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// DeleteAgent removes an agent owned by ownerUUID.
func (m *MockStore) DeleteAgent(ctx context.Context, ownerUUID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok || a.OwnerUUID != ownerUUID {
		return ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
