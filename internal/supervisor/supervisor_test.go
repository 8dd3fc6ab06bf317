// ABOUTME: Tests for the connection supervisor over real WebSocket connections
// ABOUTME: Exercises handshake scenarios, isolation between sessions and shutdown

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lynx-gateway/internal/auth"
	"github.com/2389/lynx-gateway/internal/metrics"
	"github.com/2389/lynx-gateway/internal/session"
)

var supervisorTestSecret = []byte("supervisor-test-secret-32-bytes!")

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoHandler replies to every domain envelope with the acting subject, so tests
// can observe which identity a frame was forwarded under.
func echoHandler() session.Handler {
	return session.HandlerFunc(func(_ context.Context, subject string, _ session.Role, env session.Envelope) (*session.Envelope, error) {
		return &session.Envelope{Kind: env.Kind, Body: subject + ":" + env.Body}, nil
	})
}

type testServer struct {
	supervisor *Supervisor
	issuer     *auth.JWTIssuer
	server     *httptest.Server
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	issuer, err := auth.NewJWTIssuer(supervisorTestSecret)
	require.NoError(t, err)

	m := metrics.New(metrics.Config{Registry: prometheus.NewRegistry()})
	protocol := session.NewProtocol(issuer, echoHandler(), m, testLogger())
	sup := New(cfg, protocol, m, testLogger())

	mux := http.NewServeMux()
	mux.Handle("/ws/user", sup.Handler(session.RoleUser))
	mux.Handle("/ws/agent", sup.Handler(session.RoleAgent))
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
		srv.Close()
	})

	return &testServer{supervisor: sup, issuer: issuer, server: srv}
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) token(t *testing.T, subject string) string {
	t.Helper()
	token, err := ts.issuer.Issue(subject, 3600*time.Second)
	require.NoError(t, err)
	return token
}

func send(t *testing.T, conn *websocket.Conn, env session.Envelope) {
	t.Helper()
	data, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func receive(t *testing.T, conn *websocket.Conn) session.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	env, err := session.Decode(data)
	require.NoError(t, err)
	return env
}

func descriptor(t *testing.T, env session.Envelope) session.Descriptor {
	t.Helper()
	var d session.Descriptor
	require.NoError(t, json.Unmarshal([]byte(env.Body), &d))
	return d
}

func TestSupervisor_SendsSessionDescriptor(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/user")

	env := receive(t, conn)
	assert.Equal(t, session.KindSession, env.Kind)
	d := descriptor(t, env)
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.Authenticated)
	assert.Equal(t, session.RoleUser, d.Role)
}

func TestSupervisor_AuthenticateThenForward(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/user")
	opened := descriptor(t, receive(t, conn))

	send(t, conn, session.Envelope{Kind: session.KindUserAuthentication, Body: ts.token(t, "u1")})
	ack := receive(t, conn)
	require.Equal(t, session.KindUserAuthentication, ack.Kind)
	d := descriptor(t, ack)
	assert.True(t, d.Authenticated)
	assert.Equal(t, "u1", d.Subject)
	assert.Equal(t, opened.ID, d.ID)

	send(t, conn, session.Envelope{Kind: session.KindUser, Body: "hello"})
	reply := receive(t, conn)
	assert.Equal(t, session.Envelope{Kind: session.KindUser, Body: "u1:hello"}, reply)

	info, ok := ts.supervisor.Manager().Get(opened.ID)
	require.True(t, ok)
	assert.True(t, info.Authenticated)
	assert.Equal(t, "u1", info.Subject)
}

func TestSupervisor_DomainBeforeAuthenticateKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/user")
	receive(t, conn)

	send(t, conn, session.Envelope{Kind: session.KindUser, Body: "too early"})
	reply := receive(t, conn)
	assert.Equal(t, session.KindError, reply.Kind)
	assert.Contains(t, reply.Body, "not authenticated")

	// Still open: the handshake can proceed on the same connection.
	send(t, conn, session.Envelope{Kind: session.KindUserAuthentication, Body: ts.token(t, "u1")})
	assert.Equal(t, session.KindUserAuthentication, receive(t, conn).Kind)
}

func TestSupervisor_FailedAuthenticationAllowsRetry(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/agent")
	receive(t, conn)

	for i := 0; i < 3; i++ {
		send(t, conn, session.Envelope{Kind: session.KindAgentAuthentication, Body: "forged"})
		assert.Equal(t, session.ErrorEnvelope(session.ReasonInvalidToken), receive(t, conn))
	}

	send(t, conn, session.Envelope{Kind: session.KindAgentAuthentication, Body: ts.token(t, "agent-1")})
	ack := receive(t, conn)
	assert.Equal(t, session.KindAgentAuthentication, ack.Kind)
	assert.Equal(t, "agent-1", descriptor(t, ack).Subject)

	send(t, conn, session.Envelope{Kind: session.KindPrinter, Body: "G28"})
	assert.Equal(t, session.Envelope{Kind: session.KindPrinter, Body: "agent-1:G28"}, receive(t, conn))
}

func TestSupervisor_MalformedAndBinaryFrames(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/user")
	receive(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, session.ErrorEnvelope(session.ReasonParse), receive(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	assert.Equal(t, session.ErrorEnvelope(session.ReasonParse), receive(t, conn))

	send(t, conn, session.Envelope{Kind: "Teleport"})
	assert.Equal(t, session.ErrorEnvelope(session.ReasonUnknownKind), receive(t, conn))
}

func TestSupervisor_PreservesOrderWithinSession(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/user")
	receive(t, conn)

	send(t, conn, session.Envelope{Kind: session.KindUserAuthentication, Body: ts.token(t, "u1")})
	receive(t, conn)

	const n = 50
	for i := 0; i < n; i++ {
		send(t, conn, session.Envelope{Kind: session.KindUser, Body: fmt.Sprint(i)})
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("u1:%d", i), receive(t, conn).Body)
	}
}

func TestSupervisor_ConcurrentSessionsAreIsolated(t *testing.T) {
	ts := newTestServer(t, Config{})

	subjects := []string{"u1", "u2", "u3", "u4"}
	var wg sync.WaitGroup
	errs := make(chan error, len(subjects))

	for _, subject := range subjects {
		conn := ts.dial(t, "/ws/user")
		token := ts.token(t, subject)
		wg.Add(1)
		go func(subject string, conn *websocket.Conn) {
			defer wg.Done()
			errs <- runIsolatedClient(conn, subject, token)
		}(subject, conn)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, len(subjects), ts.supervisor.Manager().Count(session.RoleUser))
}

// runIsolatedClient authenticates as subject and checks every reply carries it.
func runIsolatedClient(conn *websocket.Conn, subject, token string) error {
	read := func() (session.Envelope, error) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return session.Envelope{}, err
		}
		return session.Decode(data)
	}
	write := func(env session.Envelope) error {
		data, err := env.Encode()
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if _, err := read(); err != nil {
		return err
	}
	if err := write(session.Envelope{Kind: session.KindUserAuthentication, Body: token}); err != nil {
		return err
	}
	ack, err := read()
	if err != nil {
		return err
	}
	var d session.Descriptor
	if err := json.Unmarshal([]byte(ack.Body), &d); err != nil {
		return err
	}
	if d.Subject != subject {
		return fmt.Errorf("ack subject = %q, want %q", d.Subject, subject)
	}

	for i := 0; i < 20; i++ {
		if err := write(session.Envelope{Kind: session.KindUser, Body: fmt.Sprint(i)}); err != nil {
			return err
		}
		reply, err := read()
		if err != nil {
			return err
		}
		if want := fmt.Sprintf("%s:%d", subject, i); reply.Body != want {
			return fmt.Errorf("reply = %q, want %q", reply.Body, want)
		}
	}
	return nil
}

func TestSupervisor_UnregistersOnDisconnect(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/user")
	receive(t, conn)
	require.Equal(t, 1, ts.supervisor.Manager().Count(""))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	require.Eventually(t, func() bool {
		return ts.supervisor.Manager().Count("") == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSupervisor_ReadLimitClosesConnection(t *testing.T) {
	ts := newTestServer(t, Config{MaxMessageSize: 128})
	conn := ts.dial(t, "/ws/user")
	receive(t, conn)

	big := session.Envelope{Kind: session.KindUser, Body: strings.Repeat("x", 1024)}
	send(t, conn, big)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		return ts.supervisor.Manager().Count("") == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSupervisor_ShutdownClosesSessions(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t, "/ws/user")
	receive(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.supervisor.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
	assert.Equal(t, 0, ts.supervisor.Manager().Count(""))

	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/user"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestSupervisor_AllowedOrigins(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"https://app.printerlynx.io"}})
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/user"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	header = http.Header{"Origin": []string{"https://app.printerlynx.io"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}
