// ABOUTME: Accepts WebSocket upgrades and runs one reader/writer pair per connection.
// ABOUTME: Applies the session protocol to each inbound frame in arrival order.

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/lynx-gateway/internal/metrics"
	"github.com/2389/lynx-gateway/internal/session"
)

// Config holds transport limits for duplex connections.
type Config struct {
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	SendBuffer      int
	ReadBufferSize  int
	WriteBufferSize int

	// AllowedOrigins restricts browser Origin headers. Empty allows any origin;
	// requests without an Origin header are always allowed.
	AllowedOrigins []string
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:  64 * 1024,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      32,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	return c
}

// Supervisor owns the lifecycle of every duplex connection.
type Supervisor struct {
	cfg      Config
	protocol *session.Protocol
	upgrader websocket.Upgrader
	manager  *Manager
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	closing atomic.Bool
}

// New creates a Supervisor. metrics may be nil.
func New(cfg Config, protocol *session.Protocol, m *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg = cfg.withDefaults()

	s := &Supervisor{
		cfg:      cfg,
		protocol: protocol,
		manager:  NewManager(logger.With("component", "session-manager")),
		metrics:  m,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Manager exposes the connection registry.
func (s *Supervisor) Manager() *Manager {
	return s.manager
}

func (s *Supervisor) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	s.logger.Warn("rejected websocket origin", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

// Handler returns an HTTP handler that upgrades requests into sessions of role.
func (s *Supervisor) Handler(role session.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.acquire() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.wg.Done()

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already answered; there is no session to report to.
			s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		s.serve(r.Context(), conn, role, r.RemoteAddr)
	}
}

// acquire registers an in-flight connection unless shutdown has begun.
func (s *Supervisor) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// serve runs the read loop for one connection on the calling goroutine. It returns
// when the peer disconnects, a transport error occurs, or the supervisor shuts down.
func (s *Supervisor) serve(ctx context.Context, conn *websocket.Conn, role session.Role, remoteAddr string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(remoteAddr, role)
	logger := s.logger.With("session_id", sess.ID, "role", role, "remote_addr", remoteAddr)

	c := newConnection(Info{
		ID:          sess.ID,
		Role:        role,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}, conn, s.cfg, s.metrics, logger)

	if err := s.manager.Register(c); err != nil {
		logger.Error("registering connection", "error", err)
		_ = conn.Close()
		return
	}
	s.metrics.SessionOpened(string(role))
	c.start()

	defer func() {
		sess.Close()
		c.Close()
		c.wait()
		s.manager.Unregister(sess.ID)
		s.metrics.SessionClosed(string(role))
	}()

	// Shutdown may have snapshotted the registry before Register ran.
	if s.closing.Load() {
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		return
	}

	conn.SetReadLimit(s.cfg.MaxMessageSize)

	open, err := s.protocol.Open(sess)
	if err != nil {
		logger.Error("building session descriptor", "error", err)
		return
	}
	if err := c.Enqueue(open); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.logReadError(logger, c, role, err)
			return
		}
		s.metrics.EnvelopeReceived(string(role))

		wasAuthenticated := sess.Authenticated()

		var replies []session.Envelope
		if msgType != websocket.TextMessage {
			logger.Warn("error parsing message", "error", "non-text frame")
			replies = []session.Envelope{session.ErrorEnvelope(session.ReasonParse)}
		} else {
			replies = s.protocol.ApplyFrame(ctx, sess, data)
		}

		if !wasAuthenticated && sess.Authenticated() {
			s.manager.MarkAuthenticated(sess.ID, sess.Subject())
		}

		for _, reply := range replies {
			if err := c.Enqueue(reply); err != nil {
				return
			}
		}
	}
}

func (s *Supervisor) logReadError(logger *slog.Logger, c *Connection, role session.Role, err error) {
	switch {
	case c.isClosed():
		// Closed locally by a write failure or shutdown.
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Info("connection closed by peer")
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("message exceeds read limit", "limit", s.cfg.MaxMessageSize)
		s.metrics.TransportError(string(role), "read")
	default:
		logger.Warn("read error", "error", err)
		s.metrics.TransportError(string(role), "read")
	}
}

// Shutdown closes every live connection with a going-away frame and waits for
// their goroutines to exit or ctx to expire. New upgrades are refused.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	s.mu.Unlock()

	conns := s.manager.connections()
	s.logger.Info("closing sessions", "count", len(conns))
	for _, c := range conns {
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
