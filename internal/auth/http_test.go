// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, context propagation and error bodies

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lynx-gateway/internal/apperr"
)

// httpTestSecret is a 32-byte secret that meets MinSecretLength requirement.
var httpTestSecret = []byte("http-middleware-test-secret-32b!")

// countingVerifier records how often Verify is called.
type countingVerifier struct {
	inner TokenVerifier
	calls int
}

func (c *countingVerifier) Verify(credential string) (*Claims, error) {
	c.calls++
	return c.inner.Verify(credential)
}

// recordingObserver captures auth results.
type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveAuth(transport, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, transport+":"+result)
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) apperr.Body {
	t.Helper()
	var body apperr.Body
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	issuer, err := NewJWTIssuer(httpTestSecret)
	require.NoError(t, err)

	token, err := issuer.Issue("user-123", time.Hour)
	require.NoError(t, err)

	observer := &recordingObserver{}
	middleware := HTTPAuthMiddleware(issuer, nil, observer)

	var gotSubject string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = MustSubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-123", gotSubject)
	assert.Equal(t, []string{"http:ok"}, observer.results)
}

func TestHTTPAuthMiddleware_MissingAuthHeader(t *testing.T) {
	issuer, _ := NewJWTIssuer(httpTestSecret)
	verifier := &countingVerifier{inner: issuer}
	observer := &recordingObserver{}

	middleware := HTTPAuthMiddleware(verifier, nil, observer)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/info", nil)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, verifier.calls, "verifier must not run without a credential")
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "401 Unauthorized", body.Status)
	assert.Equal(t, "Missing bearer token", body.Message)
	assert.Equal(t, []string{"http:unauthenticated"}, observer.results)
}

func TestHTTPAuthMiddleware_MalformedHeader(t *testing.T) {
	issuer, _ := NewJWTIssuer(httpTestSecret)
	verifier := &countingVerifier{inner: issuer}
	middleware := HTTPAuthMiddleware(verifier, nil, nil)

	headers := []string{"Basic dXNlcjpwYXNz", "Bearer", "Bearer    ", "token-without-scheme"}
	for _, h := range headers {
		t.Run(h, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
			req.Header.Set("Authorization", h)
			rec := httptest.NewRecorder()

			middleware(http.NotFoundHandler()).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Equal(t, 0, verifier.calls)
}

func TestHTTPAuthMiddleware_InvalidToken(t *testing.T) {
	issuer, _ := NewJWTIssuer(httpTestSecret)
	middleware := HTTPAuthMiddleware(issuer, nil, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/info", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "Invalid token", body.Message)
}

func TestHTTPAuthMiddleware_ExpiredToken(t *testing.T) {
	issuer, _ := NewJWTIssuer(httpTestSecret)
	expired, err := issuer.Issue("user-123", -time.Minute)
	require.NoError(t, err)

	observer := &recordingObserver{}
	middleware := HTTPAuthMiddleware(issuer, nil, observer)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/info", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "401 Unauthorized", body.Status)
	assert.Equal(t, "Invalid token", body.Message)
	assert.Equal(t, []string{"http:invalid_token"}, observer.results)
}

func TestHTTPAuthMiddleware_ForeignSecret(t *testing.T) {
	issuer, _ := NewJWTIssuer(httpTestSecret)
	forger, _ := NewJWTIssuer([]byte("forger-secret-that-is-32-bytes!!"))
	forged, _ := forger.Issue("admin", time.Hour)

	middleware := HTTPAuthMiddleware(issuer, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/info", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()

	middleware(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", decodeErrorBody(t, rec).Message)
}

func TestHTTPAuthMiddleware_LowercaseScheme(t *testing.T) {
	issuer, _ := NewJWTIssuer(httpTestSecret)
	token, _ := issuer.Issue("user-9", time.Hour)

	middleware := HTTPAuthMiddleware(issuer, nil, nil)
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	middleware(handler).ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}

func TestRequireSubject(t *testing.T) {
	handler := RequireSubject()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.Body{Status: "401 Unauthorized", Message: "Missing bearer token"}, decodeErrorBody(t, rec))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithSubject(req.Context(), "u1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
