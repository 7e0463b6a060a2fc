// Package delivery moves serialized envelopes from the dispatcher to
// subscriber endpoints through NSQ.
package delivery

import (
	"errors"
	"time"
)

var ErrMalformedTask = errors.New("malformed delivery task")

// Task is one pending POST of Body to URL. The other fields are queue
// bookkeeping and never reach the subscriber.
type Task struct {
	URL          string            `json:"url"`
	Body         string            `json:"body"`
	EventType    string            `json:"event_type,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func (t Task) Validate() error {
	if t.URL == "" || t.Body == "" {
		return ErrMalformedTask
	}
	return nil
}
