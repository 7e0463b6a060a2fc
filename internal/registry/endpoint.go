// Package registry stores subscriber webhook endpoints and answers
// "who wants this event" lookups for the dispatcher.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/austindbirch/hookrelay/internal/event"
)

// Endpoint is a subscriber URL and the event types it receives.
type Endpoint struct {
	ID            int64        `json:"id"`
	OwnerID       int64        `json:"owner_id"`
	ApplicationID *int64       `json:"application_id,omitempty"`
	TargetURL     string       `json:"target_url"`
	Events        []event.Type `json:"events"`
	Source        string       `json:"source,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Subscribes reports whether the endpoint receives t
func (e *Endpoint) Subscribes(t event.Type) bool {
	for _, ev := range e.Events {
		if ev == t {
			return true
		}
	}
	return false
}

var (
	ErrNotFound     = errors.New("endpoint not found")
	ErrDuplicateURL = errors.New("has already been taken")
)

// ValidationError reports a rejected registration or update.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Store is the durable storage behind the Registry. Every method is atomic
// for a single endpoint; no cross-endpoint transactions are needed.
type Store interface {
	// Insert assigns ID and timestamps; a taken URL returns ErrDuplicateURL
	Insert(ctx context.Context, ep *Endpoint) error
	UpdateEvents(ctx context.Context, id, ownerID int64, events []event.Type) (*Endpoint, error)
	Get(ctx context.Context, id, ownerID int64) (*Endpoint, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]Endpoint, error)
	MatchURLs(ctx context.Context, eventType event.Type, ownerID int64) ([]string, error)
	Delete(ctx context.Context, id, ownerID int64) error
	DeleteByOwnerAndApplication(ctx context.Context, ownerID, applicationID int64) (int64, error)
}
