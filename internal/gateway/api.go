// ABOUTME: HTTP API handlers for accounts, agents and live sessions
// ABOUTME: Protected routes read the verified subject placed in context by the auth gate

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/lynx-gateway/internal/account"
	"github.com/2389/lynx-gateway/internal/apperr"
	"github.com/2389/lynx-gateway/internal/auth"
	"github.com/2389/lynx-gateway/internal/supervisor"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// SessionsResponse is the JSON response for GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []supervisor.Info `json:"sessions"`
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes err as a {status, message} body.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	apperr.WriteJSON(w, err, g.logger)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("Request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body is empty")
		}
		return apperr.Validation("Invalid request body")
	}
	return nil
}

// handleRegister handles POST /api/v1/auth/register.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err)
		return
	}

	token, err := g.accounts.Register(r.Context(), req)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, token)
}

// handleLogin handles POST /api/v1/auth/login.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req account.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err)
		return
	}

	token, err := g.accounts.Login(r.Context(), req)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, token)
}

// handleUserInfo handles GET /api/v1/users/info.
func (g *Gateway) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := g.accounts.Info(r.Context(), auth.MustSubjectFromContext(r.Context()))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, info)
}

// handleListAgents handles GET /api/v1/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.accounts.ListAgents(r.Context(), auth.MustSubjectFromContext(r.Context()))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, agents)
}

// handleCreateAgent handles POST /api/v1/agents. The response carries the agent's
// credential, which is not retrievable later.
func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req account.AgentRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err)
		return
	}

	cred, err := g.accounts.AddAgent(r.Context(), auth.MustSubjectFromContext(r.Context()), req)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, cred)
}

// handleDeleteAgent handles DELETE /api/v1/agents/{uuid}.
func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agentUUID := chi.URLParam(r, "uuid")

	if err := g.accounts.DeleteAgent(r.Context(), auth.MustSubjectFromContext(r.Context()), agentUUID); err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, true)
}

// handleListSessions handles GET /api/v1/sessions. Only sessions authenticated as
// the caller, or as one of the caller's agents, are listed.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	subject := auth.MustSubjectFromContext(r.Context())

	owned := map[string]bool{subject: true}
	agents, err := g.accounts.ListAgents(r.Context(), subject)
	if err != nil {
		g.writeError(w, err)
		return
	}
	for _, a := range agents {
		owned[a.UUID] = true
	}

	sessions := []supervisor.Info{}
	for _, info := range g.supervisor.Manager().List() {
		if info.Authenticated && owned[info.Subject] {
			sessions = append(sessions, info)
		}
	}
	g.writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}
