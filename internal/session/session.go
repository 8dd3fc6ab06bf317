// ABOUTME: Connection session state owned by a single connection goroutine
// ABOUTME: Tracks the authentication state and the subject bound at handshake time

package session

import (
	"github.com/google/uuid"
)

// State is the position of a session in the authentication state machine.
type State int

// Session states.
const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server-side state of one duplex connection. It is not safe for
// concurrent use; exactly one goroutine owns it for the lifetime of the connection.
type Session struct {
	ID         string
	RemoteAddr string
	Role       Role

	state   State
	subject string
}

// New creates an unauthenticated session with a fresh identifier.
func New(remoteAddr string, role Role) *Session {
	return &Session{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		Role:       role,
		state:      StateUnauthenticated,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Authenticated reports whether the handshake has completed.
func (s *Session) Authenticated() bool {
	return s.state == StateAuthenticated
}

// Subject returns the identity bound at authentication, or "" before it.
func (s *Session) Subject() string {
	return s.subject
}

// Close moves the session to its terminal state. It is idempotent.
func (s *Session) Close() {
	s.state = StateClosed
}

// Descriptor returns a snapshot of the session for the peer or for observers.
func (s *Session) Descriptor() Descriptor {
	return Descriptor{
		ID:            s.ID,
		Role:          s.Role,
		Authenticated: s.state == StateAuthenticated,
		Subject:       s.subject,
	}
}

// authenticate binds subject. Only the first successful call has any effect.
func (s *Session) authenticate(subject string) {
	if s.state != StateUnauthenticated {
		return
	}
	s.subject = subject
	s.state = StateAuthenticated
}
