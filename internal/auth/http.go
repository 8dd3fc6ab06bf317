// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the bearer credential from Authorization and adds the subject to context

package auth

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/lynx-gateway/internal/apperr"
)

// Auth results reported to an Observer.
const (
	ResultOK              = "ok"
	ResultUnauthenticated = "unauthenticated"
	ResultInvalidToken    = "invalid_token"
)

// msgMissingToken is the one message for requests without a usable credential.
const msgMissingToken = "Missing bearer token"

// Observer receives one notification per authentication decision.
type Observer interface {
	ObserveAuth(transport, result string, elapsed time.Duration)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", msgMissingToken
	}
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "Invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", msgMissingToken
	}
	return token, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that validates bearer credentials.
// Requests without a credential are rejected before the verifier is consulted. On
// success the verified subject is attached with WithSubject. The gate never touches
// the identity store; resolving the subject is left to downstream handlers.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger, observer Observer) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				observe(observer, ResultUnauthenticated, start)
				logger.Debug("unauthenticated request", "path", r.URL.Path, "reason", errMsg, "remote_addr", r.RemoteAddr)
				apperr.WriteJSON(w, apperr.Unauthenticated(errMsg), logger)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				observe(observer, ResultInvalidToken, start)
				logger.Warn("invalid token", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				apperr.WriteJSON(w, apperr.InvalidToken(), logger)
				return
			}

			observe(observer, ResultOK, start)
			logger.Info("finished processing protected request",
				"path", r.URL.Path,
				"duration_us", time.Since(start).Microseconds(),
			)
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), claims.Subject)))
		})
	}
}

// RequireSubject rejects requests that did not pass through HTTPAuthMiddleware.
// Handlers mounted behind it can call MustSubjectFromContext safely.
func RequireSubject() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SubjectFromContext(r.Context()); !ok {
				apperr.WriteJSON(w, apperr.Unauthenticated(msgMissingToken), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func observe(observer Observer, result string, start time.Time) {
	if observer != nil {
		observer.ObserveAuth("http", result, time.Since(start))
	}
}
