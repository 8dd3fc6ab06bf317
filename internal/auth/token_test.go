// ABOUTME: Unit tests for JWT issuance and verification
// ABOUTME: Tests round trips, expiry, tampering, wrong secrets and wrong algorithms

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTestSecret is a 32-byte secret that meets MinSecretLength requirement.
var tokenTestSecret = []byte("token-test-secret-32-bytes-long!")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestIssuer(t *testing.T, opts ...Option) *JWTIssuer {
	t.Helper()
	issuer, err := NewJWTIssuer(tokenTestSecret, opts...)
	if err != nil {
		t.Fatalf("NewJWTIssuer() error = %v", err)
	}
	return issuer
}

func TestNewJWTIssuer_SecretRequired(t *testing.T) {
	if _, err := NewJWTIssuer(nil); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewJWTIssuer(nil) error = %v, want ErrMissingSecret", err)
	}
	if _, err := NewJWTIssuer([]byte("short")); !errors.Is(err, ErrShortSecret) {
		t.Errorf("NewJWTIssuer(short) error = %v, want ErrShortSecret", err)
	}
}

func TestJWTIssuer_RoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)

	subjects := []string{"u1", "principal-2", "7c0c1c1e-7a43-4c3c-9d3c-0d4f3f3f3f3f", "ünïcødé"}
	for _, subject := range subjects {
		token, err := issuer.Issue(subject, time.Hour)
		if err != nil {
			t.Fatalf("Issue(%q) error = %v", subject, err)
		}

		claims, err := issuer.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims.Subject != subject {
			t.Errorf("Verify().Subject = %q, want %q", claims.Subject, subject)
		}
		if claims.Issuer != Issuer {
			t.Errorf("Verify().Issuer = %q, want %q", claims.Issuer, Issuer)
		}
	}
}

func TestJWTIssuer_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, WithClock(clock.Now))

	token, err := issuer.Issue("u1", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := issuer.Verify(token); err != nil {
		t.Fatalf("Verify() immediately after issue error = %v", err)
	}

	clock.Advance(time.Minute + time.Second)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() after ttl error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTIssuer_ExpiredWithRealClock(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.Issue("u1", -time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTIssuer_ExpiresAtMatchesTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)}
	issuer := newTestIssuer(t, WithClock(clock.Now))

	token, _ := issuer.Issue("u1", 3600*time.Second)
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if want := clock.now.Add(time.Hour); !claims.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, want)
	}
}

func TestJWTIssuer_TamperedByteAlwaysInvalid(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.Issue("u1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	for i := 0; i < len(token); i++ {
		b := []byte(token)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}

		claims, err := issuer.Verify(string(b))
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(tampered at %d) = %+v, %v; want ErrInvalidToken", i, claims, err)
		}
	}
}

func TestJWTIssuer_InvalidTokens(t *testing.T) {
	issuer := newTestIssuer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{
			name: "wrong secret",
			token: func() string {
				other, _ := NewJWTIssuer([]byte("a-completely-different-secret-32b"))
				token, _ := other.Issue("u1", time.Hour)
				return token
			}(),
		},
		{
			name: "wrong issuer",
			token: func() string {
				claims := jwt.RegisteredClaims{
					Issuer:    "SomeoneElse",
					Subject:   "u1",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				}
				token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokenTestSecret)
				return token
			}(),
		},
		{
			name: "missing subject",
			token: func() string {
				claims := jwt.RegisteredClaims{
					Issuer:    Issuer,
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				}
				token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokenTestSecret)
				return token
			}(),
		},
		{
			name: "missing expiry",
			token: func() string {
				claims := jwt.RegisteredClaims{Issuer: Issuer, Subject: "u1"}
				token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokenTestSecret)
				return token
			}(),
		},
		{
			name: "HS512 algorithm",
			token: func() string {
				claims := jwt.RegisteredClaims{
					Issuer:    Issuer,
					Subject:   "u1",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				}
				token, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(tokenTestSecret)
				return token
			}(),
		},
		{
			name: "alg none",
			token: func() string {
				claims := jwt.RegisteredClaims{
					Issuer:    Issuer,
					Subject:   "u1",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				}
				token, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
			if err != nil && err.Error() != ErrInvalidToken.Error() {
				t.Errorf("Verify() leaked detail: %q", err.Error())
			}
		})
	}
}

func TestJWTIssuer_CredentialsDiffer(t *testing.T) {
	issuer := newTestIssuer(t)

	a, _ := issuer.Issue("u1", time.Hour)
	b, _ := issuer.Issue("u2", time.Hour)
	if a == b {
		t.Error("credentials for different subjects should differ")
	}
	if strings.Count(a, ".") != 2 {
		t.Errorf("credential %q is not a compact JWS", a)
	}
}
