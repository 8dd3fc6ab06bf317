// Package session implements the handshake protocol spoken over duplex connections.
//
// # Envelopes
//
// Every frame is a JSON text message:
//
//	{"message_type": "UserAuthentication", "body": "<bearer credential>"}
//
// The body is interpreted according to message_type. Unknown types are answered
// with an Error envelope, never ignored.
//
// # State Machine
//
// A Session starts Unauthenticated. The only envelope it acts on in that state is
// the authentication kind for its Role; a credential that verifies moves it to
// Authenticated and binds the credential's subject. Failed attempts leave the
// session open so the peer may retry. Authenticating again is acknowledged without
// re-verification and never rebinds the subject. Closed is terminal.
//
// Roles differ only in which kinds are legal:
//
//   - RoleUser: UserAuthentication, then User
//   - RoleAgent: AgentAuthentication, then Agent and Printer
//
// # Ownership
//
// A Session belongs to the goroutine reading its connection. Protocol is stateless
// and shared by all connections, so no locking is needed at the session level.
package session
