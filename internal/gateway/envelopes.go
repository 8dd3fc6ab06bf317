// ABOUTME: Business handler for domain envelopes arriving on authenticated sessions
// ABOUTME: Logs each envelope with its acting subject and acknowledges receipt

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/2389/lynx-gateway/internal/session"
)

// envelopeAck is the body of the acknowledgement sent for every domain envelope.
type envelopeAck struct {
	Received bool   `json:"received"`
	Subject  string `json:"subject"`
}

// envelopeHandler is the gateway's session.Handler. Printer control is handled by
// agents themselves; the gateway only records and acknowledges traffic.
type envelopeHandler struct {
	logger *slog.Logger
}

func newEnvelopeHandler(logger *slog.Logger) *envelopeHandler {
	return &envelopeHandler{logger: logger}
}

// HandleEnvelope implements session.Handler.
func (h *envelopeHandler) HandleEnvelope(_ context.Context, subject string, role session.Role, env session.Envelope) (*session.Envelope, error) {
	h.logger.Info("envelope received",
		"subject", subject,
		"role", role,
		"kind", env.Kind,
		"body_bytes", len(env.Body),
	)

	body, err := json.Marshal(envelopeAck{Received: true, Subject: subject})
	if err != nil {
		return nil, fmt.Errorf("encoding acknowledgement: %w", err)
	}
	return &session.Envelope{Kind: env.Kind, Body: string(body)}, nil
}
