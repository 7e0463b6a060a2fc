package registry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/austindbirch/hookrelay/internal/event"
)

// MemoryStore keeps endpoints in process memory. Used by tests and by
// STORE_DRIVER=memory development runs.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*Endpoint
	byURL  map[string]int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[int64]*Endpoint),
		byURL: make(map[string]int64),
		now:   time.Now,
	}
}

func (s *MemoryStore) Insert(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byURL[ep.TargetURL]; taken {
		return ErrDuplicateURL
	}
	s.nextID++
	ep.ID = s.nextID
	ep.CreatedAt = s.now().UTC()
	ep.UpdatedAt = ep.CreatedAt

	s.byID[ep.ID] = clone(ep)
	s.byURL[ep.TargetURL] = ep.ID
	return nil
}

func (s *MemoryStore) UpdateEvents(_ context.Context, id, ownerID int64, events []event.Type) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.byID[id]
	if !ok || ep.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	ep.Events = slices.Clone(events)
	ep.UpdatedAt = s.now().UTC()
	return clone(ep), nil
}

func (s *MemoryStore) Get(_ context.Context, id, ownerID int64) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.byID[id]
	if !ok || ep.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return clone(ep), nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID int64) ([]Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Endpoint
	for _, id := range s.sortedIDs() {
		if ep := s.byID[id]; ep.OwnerID == ownerID {
			out = append(out, *clone(ep))
		}
	}
	return out, nil
}

func (s *MemoryStore) MatchURLs(_ context.Context, eventType event.Type, ownerID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := []string{}
	for _, id := range s.sortedIDs() {
		ep := s.byID[id]
		if ep.OwnerID == ownerID && ep.Subscribes(eventType) {
			urls = append(urls, ep.TargetURL)
		}
	}
	return urls, nil
}

func (s *MemoryStore) Delete(_ context.Context, id, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.byID[id]
	if !ok || ep.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(s.byURL, ep.TargetURL)
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) DeleteByOwnerAndApplication(_ context.Context, ownerID, applicationID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, ep := range s.byID {
		if ep.OwnerID != ownerID || ep.ApplicationID == nil || *ep.ApplicationID != applicationID {
			continue
		}
		delete(s.byURL, ep.TargetURL)
		delete(s.byID, id)
		n++
	}
	return n, nil
}

// caller holds mu
func (s *MemoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func clone(ep *Endpoint) *Endpoint {
	c := *ep
	c.Events = slices.Clone(ep.Events)
	if ep.ApplicationID != nil {
		app := *ep.ApplicationID
		c.ApplicationID = &app
	}
	return &c
}
