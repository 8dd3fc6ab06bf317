// ABOUTME: User-facing error taxonomy shared by the HTTP gate, handlers and sessions
// ABOUTME: Maps error kinds to HTTP statuses and writes the {status, message} JSON body

package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind classifies an error by how it is surfaced to the caller.
type Kind int

const (
	// KindInternal is anything unexpected. Details are logged, never returned.
	KindInternal Kind = iota
	// KindUnauthenticated means no credential was supplied.
	KindUnauthenticated
	// KindInvalidToken means a credential was supplied but failed verification.
	KindInvalidToken
	// KindProtocolViolation means a well-formed frame was not valid for the session state.
	KindProtocolViolation
	// KindNotFound means an authenticated identity or a requested entity does not exist.
	KindNotFound
	// KindValidation means the request body failed validation.
	KindValidation
)

// GenericMessage is returned to callers in place of internal error details.
const GenericMessage = "Something went wrong, please try again"

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidToken:
		return "invalid_token"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Error is an error with a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, never shown to the caller
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code used when the error ends an HTTP request.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthenticated, KindInvalidToken:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindProtocolViolation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show an untrusted client.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return GenericMessage
	}
	return e.Message
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: GenericMessage, Err: err}
}

// Unauthenticated reports a missing credential.
func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, message)
}

// InvalidToken reports a credential that failed verification.
func InvalidToken() *Error {
	return New(KindInvalidToken, "Invalid token")
}

// NotFound reports a missing entity.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation reports a rejected request body.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// ProtocolViolation reports an envelope that is not valid for the session state.
func ProtocolViolation(message string) *Error {
	return New(KindProtocolViolation, message)
}

// As converts any error into an *Error. Errors that are not already classified are
// treated as internal.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Body is the JSON error response body.
type Body struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusText formats a status code the way error bodies report it, e.g. "401 Unauthorized".
func StatusText(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

// WriteJSON writes err as a {status, message} body. Internal errors are logged with
// full detail when a logger is supplied.
func WriteJSON(w http.ResponseWriter, err error, logger *slog.Logger) {
	appErr := As(err)
	if appErr.Kind == KindInternal && logger != nil {
		logger.Error("internal error", "error", appErr.Err)
	}
	WriteStatus(w, appErr.HTTPStatus(), appErr.PublicMessage())
}

// WriteStatus writes a {status, message} body with the given code.
func WriteStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Body{Status: StatusText(code), Message: message})
}
