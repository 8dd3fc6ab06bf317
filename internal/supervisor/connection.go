// ABOUTME: Represents a single upgraded WebSocket connection and its writer goroutine.
// ABOUTME: Serializes outbound envelopes so only one goroutine ever writes to the socket.

package supervisor

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/lynx-gateway/internal/metrics"
	"github.com/2389/lynx-gateway/internal/session"
)

// errConnectionClosed is returned when enqueueing onto a torn-down connection.
var errConnectionClosed = errors.New("connection closed")

// Info is a read-only snapshot of a live connection.
type Info struct {
	ID            string       `json:"id"`
	Role          session.Role `json:"role"`
	RemoteAddr    string       `json:"remote_addr"`
	Authenticated bool         `json:"authenticated"`
	Subject       string       `json:"subject,omitempty"`
	ConnectedAt   time.Time    `json:"connected_at"`
}

// Connection owns the transport side of one session: the socket, the outbound
// queue and the writer goroutine. Session state lives with the reader goroutine.
type Connection struct {
	// info is guarded by the Manager's lock once registered.
	info Info

	conn         *websocket.Conn
	send         chan session.Envelope
	done         chan struct{}
	writerDone   chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// newConnection wraps conn. Call start to launch the writer goroutine.
func newConnection(info Info, conn *websocket.Conn, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Connection {
	return &Connection{
		info:         info,
		conn:         conn,
		send:         make(chan session.Envelope, cfg.SendBuffer),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		metrics:      m,
		logger:       logger,
	}
}

// ID returns the session identifier this connection carries.
func (c *Connection) ID() string {
	return c.info.ID
}

func (c *Connection) start() {
	go c.writeLoop()
}

// Enqueue queues env for the writer goroutine, preserving order. It blocks while the
// queue is full and fails once the connection has been closed.
func (c *Connection) Enqueue(env session.Envelope) error {
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return errConnectionClosed
	}
}

// writeLoop drains the outbound queue until the connection closes or a write fails.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				if !c.isClosed() {
					c.logger.Warn("write failed", "error", err)
					c.metrics.TransportError(string(c.info.Role), "write")
				}
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) write(env session.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.metrics.EnvelopeSent(string(c.info.Role))
	return nil
}

// CloseWithReason sends a close frame before tearing the connection down.
// WriteControl may run concurrently with the writer goroutine.
func (c *Connection) CloseWithReason(code int, reason string) {
	if !c.isClosed() {
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}
	c.Close()
}

// Close tears down the socket, which unblocks the reader. It is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// wait blocks until the writer goroutine has exited.
func (c *Connection) wait() {
	<-c.writerDone
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
