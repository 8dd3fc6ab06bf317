// ABOUTME: Account service: registration, login and agent credentials
// ABOUTME: Sits between the HTTP API and the identity store, issuing bearer credentials

package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/lynx-gateway/internal/apperr"
	"github.com/2389/lynx-gateway/internal/auth"
	"github.com/2389/lynx-gateway/internal/store"
)

// Validation limits for registration.
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
	// MaxPasswordLength is the most bcrypt will hash.
	MaxPasswordLength = 72
)

// Public messages returned to clients.
const (
	msgPasswordMismatch = "Password and password confirmation do not match"
	msgUsernameTooShort = "Username must be at least 3 characters long"
	msgPasswordTooShort = "Password must be at least 6 characters long"
	msgPasswordTooLong  = "Password must be at most 72 bytes long"
	msgUsernameTaken    = "Username is already taken"
	msgInvalidLogin     = "Invalid username or password"
	msgNoUser           = "No user found"
	msgNoAgent          = "No agent found"
	msgAgentNameMissing = "Agent name is required"
)

// dummyHash keeps login timing uniform when the username does not exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// RegisterRequest is the body of a registration call.
type RegisterRequest struct {
	Username             string `json:"username"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// LoginRequest is the body of a login call.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AgentRequest is the body of an agent creation call.
type AgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Token is a bearer credential handed to a client.
type Token struct {
	Token string `json:"token"`
}

// Info is the public view of an account.
type Info struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// AgentView is the public view of an agent.
type AgentView struct {
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentCredential is returned once, when an agent is created. Token authenticates
// the agent's duplex session.
type AgentCredential struct {
	AgentView
	Token string `json:"token"`
}

// Service implements account and agent operations.
type Service struct {
	store      store.Store
	issuer     auth.TokenIssuer
	ttl        time.Duration
	bcryptCost int
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service issuing credentials valid for ttl.
func NewService(st store.Store, issuer auth.TokenIssuer, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		store:      st,
		issuer:     issuer,
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates req, creates the account and returns a credential for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Token, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Password != req.PasswordConfirmation {
		return nil, apperr.Validation(msgPasswordMismatch)
	}
	if len(req.Username) < MinUsernameLength {
		return nil, apperr.Validation(msgUsernameTooShort)
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperr.Validation(msgPasswordTooShort)
	}
	if len(req.Password) > MaxPasswordLength {
		return nil, apperr.Validation(msgPasswordTooLong)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hashing password: %w", err))
	}

	subject, err := s.store.IssueNewSubject(ctx, store.AccountFields{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	})
	if errors.Is(err, store.ErrUsernameExists) {
		return nil, apperr.Validation(msgUsernameTaken)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("creating account: %w", err))
	}

	s.logger.Info("account registered", "subject", subject, "username", req.Username)
	return s.issue(subject)
}

// Login checks credentials and returns a fresh bearer credential. Unknown users and
// wrong passwords produce the same error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Token, error) {
	account, err := s.store.GetAccountByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
		return nil, apperr.Validation(msgInvalidLogin)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("looking up account: %w", err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login failed", "username", req.Username)
		return nil, apperr.Validation(msgInvalidLogin)
	}

	s.logger.Info("login succeeded", "subject", account.UUID)
	return s.issue(account.UUID)
}

// Info returns the account bound to subject.
func (s *Service) Info(ctx context.Context, subject string) (*Info, error) {
	account, err := s.resolve(ctx, subject)
	if err != nil {
		return nil, err
	}
	return &Info{UUID: account.UUID, Username: account.Username, Email: account.Email}, nil
}

// AddAgent registers an agent owned by subject and returns its one-time credential.
func (s *Service) AddAgent(ctx context.Context, subject string, req AgentRequest) (*AgentCredential, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation(msgAgentNameMissing)
	}
	if _, err := s.resolve(ctx, subject); err != nil {
		return nil, err
	}

	agent := &store.Agent{
		UUID:        uuid.New().String(),
		OwnerUUID:   subject,
		Name:        name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, apperr.Internal(fmt.Errorf("creating agent: %w", err))
	}

	token, err := s.issue(agent.UUID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("agent created", "agent", agent.UUID, "owner", subject)
	return &AgentCredential{AgentView: viewOf(agent), Token: token.Token}, nil
}

// ListAgents returns the agents owned by subject.
func (s *Service) ListAgents(ctx context.Context, subject string) ([]AgentView, error) {
	agents, err := s.store.ListAgents(ctx, subject)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing agents: %w", err))
	}

	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, viewOf(a))
	}
	return views, nil
}

// DeleteAgent removes an agent owned by subject.
func (s *Service) DeleteAgent(ctx context.Context, subject, agentUUID string) error {
	err := s.store.DeleteAgent(ctx, subject, agentUUID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(msgNoAgent)
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("deleting agent: %w", err))
	}

	s.logger.Info("agent deleted", "agent", agentUUID, "owner", subject)
	return nil
}

func (s *Service) resolve(ctx context.Context, subject string) (*store.Account, error) {
	account, err := s.store.ResolveBySubject(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(msgNoUser)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("resolving subject: %w", err))
	}
	return account, nil
}

func (s *Service) issue(subject string) (*Token, error) {
	token, err := s.issuer.Issue(subject, s.ttl)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("issuing credential: %w", err))
	}
	return &Token{Token: token}, nil
}

func viewOf(a *store.Agent) AgentView {
	return AgentView{
		UUID:        a.UUID,
		Name:        a.Name,
		Description: a.Description,
		CreatedAt:   a.CreatedAt,
	}
}
