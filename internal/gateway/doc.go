// Package gateway wires the lynx-gateway server together.
//
// A Gateway owns the identity store, the credential issuer, the account service
// and the session supervisor, and serves them from one HTTP listener:
//
//	GET    /health                  liveness, always "OK"
//	GET    /health/ready            store ping plus live session count
//	GET    /metrics                 Prometheus metrics (when enabled)
//	GET    /ws/user                 duplex session for user clients
//	GET    /ws/agent                duplex session for printer agents
//	POST   /api/v1/auth/register    create an account, returns a credential
//	POST   /api/v1/auth/login       exchange username and password for a credential
//	GET    /api/v1/users/info       the caller's account
//	GET    /api/v1/sessions         live sessions of the caller and its agents
//	GET    /api/v1/agents           the caller's agents
//	POST   /api/v1/agents           register an agent, returns its credential
//	DELETE /api/v1/agents/{uuid}    remove one of the caller's agents
//
// Routes under /api/v1 other than register and login require a bearer credential.
// Duplex sessions authenticate in-band with an authentication envelope instead.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is cancelled
//
// On shutdown live sessions are closed with a going-away status before the HTTP
// server drains and the store is closed.
package gateway
