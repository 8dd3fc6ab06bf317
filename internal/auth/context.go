// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithSubject/SubjectFromContext for propagating the verified subject

package auth

import (
	"context"
)

// subjectContextKey is the key type for storing the subject in context.Context.
type subjectContextKey struct{}

// WithSubject returns a new context carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the authenticated subject, or false if the request
// did not pass through the auth middleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey{}).(string)
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}

// MustSubjectFromContext returns the authenticated subject, panicking if not present.
func MustSubjectFromContext(ctx context.Context) string {
	subject, ok := SubjectFromContext(ctx)
	if !ok {
		panic("auth: subject not found in context")
	}
	return subject
}
