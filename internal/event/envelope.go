package event

import (
	"errors"

	"github.com/goccy/go-json"
)

var ErrEmptyEventType = errors.New("event type is required")

// Envelope pairs an event type with an already materialised payload.
// The key names are the wire contract subscribers parse; do not rename them.
type Envelope struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// New builds an envelope. The payload must be fully built before this call.
func New(eventType string, payload map[string]any) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, ErrEmptyEventType
	}
	return Envelope{EventType: eventType, Payload: payload}, nil
}

// Wire serializes the envelope to the JSON body POSTed to subscribers
func (e Envelope) Wire() ([]byte, error) {
	return json.Marshal(e)
}
