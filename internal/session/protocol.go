// ABOUTME: Per-connection authentication state machine shared by user and agent sockets
// ABOUTME: Applies one envelope at a time to a Session and returns the reply envelopes

package session

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/2389/lynx-gateway/internal/apperr"
	"github.com/2389/lynx-gateway/internal/auth"
)

// Reasons carried in Error envelope bodies.
const (
	ReasonNotAuthenticated = "Session not authenticated"
	ReasonInvalidToken     = "Invalid token"
	ReasonParse            = "Error parsing message"
	ReasonUnknownKind      = "Unknown message type"
	ReasonNotAllowed       = "Message type not allowed"
)

// Role selects which envelope kinds a session accepts.
type Role string

// Roles.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type roleSpec struct {
	authKind Kind
	domain   map[Kind]bool
}

var roles = map[Role]roleSpec{
	RoleUser: {
		authKind: KindUserAuthentication,
		domain:   map[Kind]bool{KindUser: true},
	},
	RoleAgent: {
		authKind: KindAgentAuthentication,
		domain:   map[Kind]bool{KindAgent: true, KindPrinter: true},
	},
}

// Valid reports whether r is a configured role.
func (r Role) Valid() bool {
	_, ok := roles[r]
	return ok
}

// AuthKind is the envelope kind that authenticates a session of this role.
func (r Role) AuthKind() Kind {
	return roles[r].authKind
}

// Accepts reports whether an authenticated session of this role forwards kind.
func (r Role) Accepts(kind Kind) bool {
	return roles[r].domain[kind]
}

// Handler receives domain envelopes from authenticated sessions. A non-nil reply is
// sent back to the peer. Errors classified with apperr are shown to the peer; all
// others are logged and replaced with a generic message.
type Handler interface {
	HandleEnvelope(ctx context.Context, subject string, role Role, env Envelope) (*Envelope, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, subject string, role Role, env Envelope) (*Envelope, error)

// HandleEnvelope calls f.
func (f HandlerFunc) HandleEnvelope(ctx context.Context, subject string, role Role, env Envelope) (*Envelope, error) {
	return f(ctx, subject, role, env)
}

// Protocol applies envelopes to sessions. It holds no per-session state and is safe
// to share between connections.
type Protocol struct {
	verifier auth.TokenVerifier
	handler  Handler
	observer auth.Observer
	logger   *slog.Logger
}

// NewProtocol creates a Protocol. The handler may be nil, in which case authenticated
// domain envelopes are accepted without a reply. The observer may be nil.
func NewProtocol(verifier auth.TokenVerifier, handler Handler, observer auth.Observer, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Protocol{
		verifier: verifier,
		handler:  handler,
		observer: observer,
		logger:   logger,
	}
}

// Open returns the Session descriptor envelope sent when a connection is established.
func (p *Protocol) Open(s *Session) (Envelope, error) {
	return descriptorEnvelope(KindSession, s.Descriptor())
}

// ApplyFrame decodes a text frame and applies it. A frame that does not decode is
// answered with an Error envelope and leaves the session unchanged.
func (p *Protocol) ApplyFrame(ctx context.Context, s *Session, data []byte) []Envelope {
	if s.State() == StateClosed {
		return nil
	}
	env, err := Decode(data)
	if err != nil {
		p.logger.Warn("error parsing message", "session_id", s.ID, "error", err)
		return reject(ReasonParse)
	}
	return p.Apply(ctx, s, env)
}

// Apply runs one transition of the session state machine and returns the envelopes
// to send back. It must be called by the single goroutine that owns s.
func (p *Protocol) Apply(ctx context.Context, s *Session, env Envelope) []Envelope {
	if s.State() == StateClosed {
		return nil
	}
	if !env.Kind.Known() {
		p.logger.Warn("unknown message type", "session_id", s.ID, "kind", env.Kind)
		return reject(ReasonUnknownKind)
	}

	if env.Kind == s.Role.AuthKind() {
		return p.authenticate(s, env)
	}

	if s.State() != StateAuthenticated {
		p.logger.Debug("rejecting envelope on unauthenticated session", "session_id", s.ID, "kind", env.Kind)
		return reject(ReasonNotAuthenticated)
	}

	if !s.Role.Accepts(env.Kind) {
		p.logger.Warn("message type not allowed", "session_id", s.ID, "role", s.Role, "kind", env.Kind)
		return reject(ReasonNotAllowed)
	}

	return p.forward(ctx, s, env)
}

// reject answers a frame that is not valid for the session's current state.
func reject(reason string) []Envelope {
	return []Envelope{ErrorEnvelope(apperr.ProtocolViolation(reason).PublicMessage())}
}

// authenticate handles the role's authentication kind. An authenticated session
// acknowledges without re-verifying and keeps its original subject.
func (p *Protocol) authenticate(s *Session, env Envelope) []Envelope {
	if s.State() == StateAuthenticated {
		p.logger.Debug("session already authenticated", "session_id", s.ID, "subject", s.Subject())
		return p.acknowledge(s)
	}

	start := time.Now()
	claims, err := p.verifier.Verify(env.Body)
	if err != nil {
		p.observe(auth.ResultInvalidToken, start)
		p.logger.Warn("invalid token", "session_id", s.ID, "remote_addr", s.RemoteAddr)
		return []Envelope{ErrorEnvelope(ReasonInvalidToken)}
	}

	s.authenticate(claims.Subject)
	p.observe(auth.ResultOK, start)
	p.logger.Info("session authenticated",
		"session_id", s.ID,
		"role", s.Role,
		"subject", claims.Subject,
		"remote_addr", s.RemoteAddr,
	)
	return p.acknowledge(s)
}

func (p *Protocol) acknowledge(s *Session) []Envelope {
	ack, err := descriptorEnvelope(s.Role.AuthKind(), s.Descriptor())
	if err != nil {
		p.logger.Error("encoding acknowledgement", "session_id", s.ID, "error", err)
		return []Envelope{ErrorEnvelope(apperr.GenericMessage)}
	}
	return []Envelope{ack}
}

// forward hands a domain envelope to the business handler with the session's subject.
func (p *Protocol) forward(ctx context.Context, s *Session, env Envelope) []Envelope {
	if p.handler == nil {
		return nil
	}
	reply, err := p.handler.HandleEnvelope(ctx, s.Subject(), s.Role, env)
	if err != nil {
		appErr := apperr.As(err)
		if appErr.Kind == apperr.KindInternal {
			p.logger.Error("handler failed", "session_id", s.ID, "kind", env.Kind, "error", err)
		}
		return []Envelope{ErrorEnvelope(appErr.PublicMessage())}
	}
	if reply == nil {
		return nil
	}
	return []Envelope{*reply}
}

func (p *Protocol) observe(result string, start time.Time) {
	if p.observer != nil {
		p.observer.ObserveAuth("websocket", result, time.Since(start))
	}
}
