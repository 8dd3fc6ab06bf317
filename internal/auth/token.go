// ABOUTME: JWT issuance and verification for bearer credentials
// ABOUTME: Uses HS256 signing with the process-wide secret injected at startup

package auth

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the fixed "iss" claim of every credential this service signs.
const Issuer = "Printerlynx"

// MinSecretLength is the minimum HS256 secret size in bytes.
const MinSecretLength = 32

// Token errors
var (
	// ErrInvalidToken is the only error Verify returns. Malformed, forged and expired
	// credentials are deliberately indistinguishable to callers.
	ErrInvalidToken = errors.New("invalid token")

	ErrMissingSecret = errors.New("jwt secret is required")
	ErrShortSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Claims is the decoded identity carried by a bearer credential.
type Claims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenVerifier validates bearer credentials.
type TokenVerifier interface {
	Verify(credential string) (*Claims, error)
}

// TokenIssuer creates bearer credentials.
type TokenIssuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

// JWTIssuer implements TokenIssuer and TokenVerifier using HS256 signed JWTs.
// It is safe for concurrent use: the secret is never mutated after construction.
type JWTIssuer struct {
	secret []byte
	now    func() time.Time
	logger *slog.Logger
	parser *jwt.Parser
}

// Option configures a JWTIssuer.
type Option func(*JWTIssuer)

// WithClock overrides the time source used for iat/exp and for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(j *JWTIssuer) { j.now = now }
}

// WithLogger sets the logger that records why a credential was rejected.
func WithLogger(logger *slog.Logger) Option {
	return func(j *JWTIssuer) { j.logger = logger }
}

// NewJWTIssuer creates a JWTIssuer. A missing or short secret is a startup error.
func NewJWTIssuer(secret []byte, opts ...Option) (*JWTIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}

	j := &JWTIssuer{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(j)
	}

	j.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return j.now() }),
	)
	return j, nil
}

// Issue creates a credential for subject that expires ttl from now.
func (j *JWTIssuer) Issue(subject string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of credential and returns its claims.
// Every failure is reported as ErrInvalidToken; the specific cause is only logged.
func (j *JWTIssuer) Verify(credential string) (*Claims, error) {
	var registered jwt.RegisteredClaims
	token, err := j.parser.ParseWithClaims(credential, &registered, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		j.logger.Debug("credential rejected", "reason", rejectReason(err), "error", err)
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		j.logger.Debug("credential rejected", "reason", "invalid")
		return nil, ErrInvalidToken
	}
	if registered.Subject == "" {
		j.logger.Debug("credential rejected", "reason", "missing subject")
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		Subject:   registered.Subject,
		Issuer:    registered.Issuer,
		ExpiresAt: registered.ExpiresAt.Time,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}

// rejectReason names the verification step that failed, for logs only.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature mismatch"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "wrong issuer"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return "invalid"
	}
}
