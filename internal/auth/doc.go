// Package auth issues and verifies bearer credentials for lynx-gateway.
//
// # Credentials
//
// A credential is an HS256 JWT carrying the subject (an account or agent UUID),
// the issuer "Printerlynx", and issued-at and expiry timestamps:
//
//	issuer, err := NewJWTIssuer(secret)
//	token, err := issuer.Issue(subject, ttl)
//	claims, err := issuer.Verify(token)
//
// Verify rejects tokens with a bad signature, another signing algorithm, a
// foreign issuer, a missing subject, or an expiry in the past. Every failure is
// reported as ErrInvalidToken so callers cannot tell which check failed.
//
// # HTTP Gate
//
// HTTPAuthMiddleware reads "Authorization: Bearer <token>", verifies it, and
// stores the subject in the request context:
//
//	r.Use(HTTPAuthMiddleware(issuer, logger, metrics))
//	r.Use(RequireSubject())
//
//	subject := MustSubjectFromContext(r.Context())
//
// Rejections are written as {"status": "401 Unauthorized", "message": ...}.
// The gate does not consult the identity store.
package auth
