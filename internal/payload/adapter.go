// Package payload turns domain entities into the external webhook payload.
package payload

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidPayloadObject is returned for entity kinds without webhook support.
var ErrInvalidPayloadObject = errors.New("invalid payload object")

// Record is what the dispatcher needs from any entity that emits events.
type Record interface {
	OwnerID() int64
	Destroyed() bool
}

// Subject is the closed set of entity kinds the adapter can serialize.
// Only types in this package can implement it; a new kind is added here.
type Subject interface {
	Record
	subjectKind() string
	decorate(site Site)
	fullPayload() map[string]any
	destroyedPayload() map[string]any
}

var _ Subject = (*Article)(nil)

// Site carries the presentation settings used by decoration.
type Site struct {
	BaseURL string
	Now     func() time.Time
}

func (s Site) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type Adapter struct {
	site Site
}

// NewAdapter creates an adapter that builds urls relative to site.BaseURL
func NewAdapter(site Site) *Adapter {
	return &Adapter{site: site}
}

// Build returns the payload for record, choosing the destroyed variant when
// the record is gone and the full, decorated variant otherwise.
func (a *Adapter) Build(record any) (map[string]any, error) {
	s, ok := record.(Subject)
	if !ok || isNil(s) {
		return nil, fmt.Errorf("%w: %T", ErrInvalidPayloadObject, record)
	}
	if s.Destroyed() {
		return s.destroyedPayload(), nil
	}
	s.decorate(a.site)
	return s.fullPayload(), nil
}

func isNil(s Subject) bool {
	a, ok := s.(*Article)
	return ok && a == nil
}

// resource wraps attributes in the JSON:API resource object subscribers expect.
func resource(id int64, kind string, attrs map[string]any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"id":         strconv.FormatInt(id, 10),
			"type":       kind,
			"attributes": attrs,
		},
	}
}
