// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists accounts and agents with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist, along with any parent directories.
// The special path ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection, not just the first.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each pooled connection to ":memory:" would be a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			uuid          TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			uuid        TEXT PRIMARY KEY,
			owner_uuid  TEXT NOT NULL REFERENCES accounts(uuid) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_uuid, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// IssueNewSubject creates an account under a freshly generated UUID and returns it.
func (s *SQLiteStore) IssueNewSubject(ctx context.Context, fields AccountFields) (string, error) {
	now := time.Now().UTC()
	account := &Account{
		UUID:         uuid.New().String(),
		Username:     fields.Username,
		Email:        fields.Email,
		PasswordHash: fields.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateAccount(ctx, account); err != nil {
		return "", err
	}
	return account.UUID, nil
}

// CreateAccount inserts a new account.
// Returns ErrUsernameExists if the username is already registered.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (uuid, username, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.UUID,
		account.Username,
		account.Email,
		account.PasswordHash,
		formatTime(account.CreatedAt),
		formatTime(account.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "uuid", account.UUID, "username", account.Username)
	return nil
}

// GetAccount retrieves an account by UUID.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.queryAccount(ctx, "uuid", id)
}

// GetAccountByUsername retrieves an account by username.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	return s.queryAccount(ctx, "username", username)
}

// ResolveBySubject looks up the account a credential subject names.
func (s *SQLiteStore) ResolveBySubject(ctx context.Context, subject string) (*Account, error) {
	return s.GetAccount(ctx, subject)
}

// queryAccount loads one account keyed by column, which must be a trusted identifier.
func (s *SQLiteStore) queryAccount(ctx context.Context, column, value string) (*Account, error) {
	query := `
		SELECT uuid, username, email, password_hash, created_at, updated_at
		FROM accounts
		WHERE ` + column + ` = ?
	`

	var account Account
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&account.UUID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	if account.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if account.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAgent inserts a new agent. The owner must exist.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	query := `
		INSERT INTO agents (uuid, owner_uuid, name, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		agent.UUID,
		agent.OwnerUUID,
		agent.Name,
		agent.Description,
		formatTime(agent.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrNotFound
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "uuid", agent.UUID, "owner", agent.OwnerUUID)
	return nil
}

// GetAgent retrieves an agent by UUID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `
		SELECT uuid, owner_uuid, name, description, created_at
		FROM agents
		WHERE uuid = ?
	`

	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents returns all agents owned by ownerUUID, oldest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, ownerUUID string) ([]*Agent, error) {
	query := `
		SELECT uuid, owner_uuid, name, description, created_at
		FROM agents
		WHERE owner_uuid = ?
		ORDER BY created_at ASC, uuid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerUUID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	agents := []*Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return agents, nil
}

// DeleteAgent removes an agent owned by ownerUUID.
// Returns ErrNotFound if no such agent belongs to the owner.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, ownerUUID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM agents WHERE uuid = ? AND owner_uuid = ?`, id, ownerUUID)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted agent", "uuid", id, "owner", ownerUUID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var createdAtStr string

	if err := row.Scan(
		&agent.UUID,
		&agent.OwnerUUID,
		&agent.Name,
		&agent.Description,
		&createdAtStr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	createdAt, err := parseTime("created_at", createdAtStr)
	if err != nil {
		return nil, err
	}
	agent.CreatedAt = createdAt
	return &agent, nil
}
