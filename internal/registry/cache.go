package registry

import (
	"context"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/rueidis"

	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/logging"
)

// CachedStore serves MatchURLs from Redis with client-side caching. Match
// lists are keyed under a per-owner version; every write bumps the version
// so a list filled from a read that raced the write is never served again.
// Other calls pass through.
type CachedStore struct {
	Store
	client rueidis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedStore(inner Store, client rueidis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	return &CachedStore{Store: inner, client: client, ttl: ttl, logger: logger}
}

func versionKey(ownerID int64) string {
	return "hookrelay:match:" + strconv.FormatInt(ownerID, 10) + ":version"
}

func matchKey(ownerID, version int64, eventType event.Type) string {
	return "hookrelay:match:" + strconv.FormatInt(ownerID, 10) +
		":v" + strconv.FormatInt(version, 10) + ":" + string(eventType)
}

// version reads the owner's current cache generation. A missing key is
// generation zero. It skips the client-side cache so a bump is seen at once.
func (s *CachedStore) version(ctx context.Context, ownerID int64) (int64, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(versionKey(ownerID)).Build()).ToString()
	if rueidis.IsRedisNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *CachedStore) MatchURLs(ctx context.Context, eventType event.Type, ownerID int64) ([]string, error) {
	version, err := s.version(ctx, ownerID)
	if err != nil {
		s.logger.WithContext(ctx).WithOwner(ownerID).WithError(err).Warn("endpoint cache version read failed")
		return s.Store.MatchURLs(ctx, eventType, ownerID)
	}
	key := matchKey(ownerID, version, eventType)

	raw, err := s.client.DoCache(ctx, s.client.B().Get().Key(key).Cache(), s.ttl).ToString()
	if err == nil {
		var urls []string
		if jerr := json.Unmarshal([]byte(raw), &urls); jerr == nil {
			return urls, nil
		}
	} else if !rueidis.IsRedisNil(err) {
		s.logger.WithContext(ctx).WithOwner(ownerID).WithError(err).Warn("endpoint cache read failed")
	}

	urls, err := s.Store.MatchURLs(ctx, eventType, ownerID)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(urls)
	if err != nil {
		return urls, nil
	}
	cmd := s.client.B().Set().Key(key).Value(string(b)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		s.logger.WithContext(ctx).WithOwner(ownerID).WithError(err).Warn("endpoint cache write failed")
	}
	return urls, nil
}

func (s *CachedStore) Insert(ctx context.Context, ep *Endpoint) error {
	if err := s.Store.Insert(ctx, ep); err != nil {
		return err
	}
	s.invalidate(ctx, ep.OwnerID)
	return nil
}

func (s *CachedStore) UpdateEvents(ctx context.Context, id, ownerID int64, events []event.Type) (*Endpoint, error) {
	ep, err := s.Store.UpdateEvents(ctx, id, ownerID, events)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, ownerID)
	return ep, nil
}

func (s *CachedStore) Delete(ctx context.Context, id, ownerID int64) error {
	if err := s.Store.Delete(ctx, id, ownerID); err != nil {
		return err
	}
	s.invalidate(ctx, ownerID)
	return nil
}

func (s *CachedStore) DeleteByOwnerAndApplication(ctx context.Context, ownerID, applicationID int64) (int64, error) {
	n, err := s.Store.DeleteByOwnerAndApplication(ctx, ownerID, applicationID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, ownerID)
	}
	return n, nil
}

// invalidate moves ownerID to a new cache generation. Lists under older
// generations are no longer read and expire with their TTL. A failure leaves
// stale entries until the TTL expires.
func (s *CachedStore) invalidate(ctx context.Context, ownerID int64) {
	if err := s.client.Do(ctx, s.client.B().Incr().Key(versionKey(ownerID)).Build()).Error(); err != nil {
		s.logger.WithContext(ctx).WithOwner(ownerID).WithError(err).
			Warnf("endpoint cache invalidation failed, entries expire in %s", s.ttl)
	}
}
