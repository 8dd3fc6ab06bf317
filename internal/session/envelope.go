// ABOUTME: Wire envelope exchanged over duplex connections
// ABOUTME: JSON text frames of {"message_type": kind, "body": string}

package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags an envelope. The body is only meaningful in the context of its kind.
type Kind string

// Envelope kinds.
const (
	KindUserAuthentication  Kind = "UserAuthentication"
	KindAgentAuthentication Kind = "AgentAuthentication"
	KindUser                Kind = "User"
	KindAgent               Kind = "Agent"
	KindPrinter             Kind = "Printer"
	KindError               Kind = "Error"
	KindSession             Kind = "Session"
)

// knownKinds is every kind the gateway understands, regardless of role.
var knownKinds = map[Kind]bool{
	KindUserAuthentication:  true,
	KindAgentAuthentication: true,
	KindUser:                true,
	KindAgent:               true,
	KindPrinter:             true,
	KindError:               true,
	KindSession:             true,
}

// Known reports whether k is a recognized kind.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Envelope is one discrete message on a duplex connection.
type Envelope struct {
	Kind Kind   `json:"message_type"`
	Body string `json:"body"`
}

// ErrMalformedEnvelope is returned when a frame does not decode into kind and body.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Decode parses a text frame into an Envelope. Unknown kinds decode successfully;
// rejecting them is the protocol's job.
func Decode(data []byte) (Envelope, error) {
	var raw struct {
		Kind *Kind   `json:"message_type"`
		Body *string `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Kind == nil || *raw.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing message_type", ErrMalformedEnvelope)
	}
	env := Envelope{Kind: *raw.Kind}
	if raw.Body != nil {
		env.Body = *raw.Body
	}
	return env, nil
}

// Encode serializes an envelope as a text frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorEnvelope builds an Error envelope carrying a human-readable reason.
func ErrorEnvelope(reason string) Envelope {
	return Envelope{Kind: KindError, Body: reason}
}

// Descriptor is the body of a Session envelope and of authentication acknowledgements,
// letting the peer observe its own session.
type Descriptor struct {
	ID            string `json:"id"`
	Role          Role   `json:"role"`
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject"`
}

// descriptorEnvelope wraps a descriptor in an envelope of the given kind.
func descriptorEnvelope(kind Kind, d Descriptor) (Envelope, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding session descriptor: %w", err)
	}
	return Envelope{Kind: kind, Body: string(body)}, nil
}
