// ABOUTME: Package supervisor runs duplex WebSocket connections for the gateway
// ABOUTME: One reader goroutine owns each session; one writer goroutine owns each socket

// Package supervisor accepts WebSocket upgrades and drives the session protocol
// for each connection.
//
// Every connection gets its own session state machine, owned by the goroutine
// serving the upgrade request. Frames are applied in arrival order and replies
// are queued to a per-connection writer goroutine, so a slow or failing peer
// never affects another session. The Manager tracks read-only snapshots of live
// connections for health reporting and graceful shutdown.
package supervisor
