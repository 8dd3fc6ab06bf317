// ABOUTME: Store interface and data types for lynx-gateway identity persistence
// ABOUTME: Defines Account and Agent records and the lookups the gateway performs on them

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when registering a username that is already taken
var ErrUsernameExists = errors.New("username already exists")

// Account is a registered human user. UUID doubles as the subject carried in
// bearer credentials.
type Account struct {
	UUID         string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountFields are the caller-supplied fields of a new account.
type AccountFields struct {
	Username     string
	Email        string
	PasswordHash string
}

// Agent is a machine identity owned by an account. UUID is the subject the agent
// presents when it authenticates a duplex session.
type Agent struct {
	UUID        string
	OwnerUUID   string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Store defines the identity persistence operations.
type Store interface {
	// IssueNewSubject creates an account and returns its newly generated subject.
	// Returns ErrUsernameExists if the username is taken.
	IssueNewSubject(ctx context.Context, fields AccountFields) (string, error)

	// CreateAccount inserts a fully populated account.
	CreateAccount(ctx context.Context, account *Account) error

	// GetAccount retrieves an account by UUID
	GetAccount(ctx context.Context, uuid string) (*Account, error)

	// GetAccountByUsername retrieves an account by its unique username
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)

	// ResolveBySubject maps a credential subject to the account it names.
	ResolveBySubject(ctx context.Context, subject string) (*Account, error)

	// CreateAgent inserts a new agent
	CreateAgent(ctx context.Context, agent *Agent) error

	// GetAgent retrieves an agent by UUID
	GetAgent(ctx context.Context, uuid string) (*Agent, error)

	// ListAgents returns the agents owned by an account, oldest first
	ListAgents(ctx context.Context, ownerUUID string) ([]*Agent, error)

	// DeleteAgent removes an agent owned by ownerUUID.
	// Returns ErrNotFound if no such agent belongs to the owner.
	DeleteAgent(ctx context.Context, ownerUUID, uuid string) error

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error

	// Close closes the store
	Close() error
}
