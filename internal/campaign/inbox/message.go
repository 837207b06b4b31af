package inbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/google/uuid"
)

// Message is the wire format of a signal on the inbox queue
type Message struct {
	SignalID   string            `json:"signal_id"`
	LeadID     string            `json:"lead_id"`
	Kind       domain.SignalKind `json:"kind"`
	ReceivedAt time.Time         `json:"received_at,omitempty"`
}

// Encode serializes a signal for publishing
func Encode(signal domain.Signal) ([]byte, error) {
	body, err := json.Marshal(Message{
		SignalID:   signal.ID,
		LeadID:     signal.LeadID,
		Kind:       signal.Kind,
		ReceivedAt: signal.ReceivedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal: %w", err)
	}
	return body, nil
}

// Decode parses and validates an inbox message. Errors wrap
// domain.ErrInvalidSignal.
func Decode(body []byte) (domain.Signal, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.Signal{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
	}

	if msg.SignalID == "" {
		return domain.Signal{}, fmt.Errorf("%w: missing signal_id", domain.ErrInvalidSignal)
	}
	if _, err := uuid.Parse(msg.LeadID); err != nil {
		return domain.Signal{}, fmt.Errorf("%w: lead_id %q is not a UUID", domain.ErrInvalidSignal, msg.LeadID)
	}
	if !msg.Kind.Valid() {
		return domain.Signal{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidSignal, msg.Kind)
	}

	return domain.Signal{
		ID:         msg.SignalID,
		LeadID:     msg.LeadID,
		Kind:       msg.Kind,
		ReceivedAt: msg.ReceivedAt,
	}, nil
}
