package registry

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/logging"
)

const testCacheTTL = time.Minute

// racingStore simulates a registry write that lands while a cache miss is
// reading the store.
type racingStore struct {
	Store
	during func()
}

func (s *racingStore) MatchURLs(ctx context.Context, eventType event.Type, ownerID int64) ([]string, error) {
	urls, err := s.Store.MatchURLs(ctx, eventType, ownerID)
	if s.during != nil {
		s.during()
		s.during = nil
	}
	return urls, err
}

func newCachedTestStore(t *testing.T, inner Store) (*CachedStore, *mock.Client, *bytes.Buffer) {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	var buf bytes.Buffer
	return NewCachedStore(inner, client, testCacheTTL, logging.NewWithWriter("cache-test", &buf)), client, &buf
}

func seedEndpoint(t *testing.T, s Store, ownerID int64, url string) {
	t.Helper()
	ep := &Endpoint{OwnerID: ownerID, TargetURL: url, Events: []event.Type{event.ArticleCreated}}
	if err := s.Insert(context.Background(), ep); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{versionKey(42), "hookrelay:match:42:version"},
		{matchKey(42, 0, event.ArticleUpdated), "hookrelay:match:42:v0:article_updated"},
		{matchKey(42, 7, event.ArticleCreated), "hookrelay:match:42:v7:article_created"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCachedStoreMatchURLs(t *testing.T) {
	ctx := context.Background()

	t.Run("hit is served from redis", func(t *testing.T) {
		cs, client, _ := newCachedTestStore(t, NewMemoryStore())
		gomock.InOrder(
			client.EXPECT().Do(gomock.Any(), mock.Match("GET", versionKey(1))).
				Return(mock.Result(mock.RedisString("3"))),
			client.EXPECT().DoCache(gomock.Any(), mock.Match("GET", matchKey(1, 3, event.ArticleCreated)), testCacheTTL).
				Return(mock.Result(mock.RedisString(`["https://cached.example.com/hook"]`))),
		)

		urls, err := cs.MatchURLs(ctx, event.ArticleCreated, 1)
		if err != nil {
			t.Fatalf("MatchURLs() error: %v", err)
		}
		if want := []string{"https://cached.example.com/hook"}; !reflect.DeepEqual(urls, want) {
			t.Errorf("MatchURLs() = %v, want %v", urls, want)
		}
	})

	t.Run("miss fills the current generation", func(t *testing.T) {
		inner := NewMemoryStore()
		seedEndpoint(t, inner, 1, "https://a.example.com/hook")
		cs, client, _ := newCachedTestStore(t, inner)
		key := matchKey(1, 0, event.ArticleCreated)
		gomock.InOrder(
			client.EXPECT().Do(gomock.Any(), mock.Match("GET", versionKey(1))).
				Return(mock.Result(mock.RedisNil())),
			client.EXPECT().DoCache(gomock.Any(), mock.Match("GET", key), testCacheTTL).
				Return(mock.Result(mock.RedisNil())),
			client.EXPECT().Do(gomock.Any(), mock.Match("SET", key, `["https://a.example.com/hook"]`, "EX", "60")).
				Return(mock.Result(mock.RedisString("OK"))),
		)

		urls, err := cs.MatchURLs(ctx, event.ArticleCreated, 1)
		if err != nil {
			t.Fatalf("MatchURLs() error: %v", err)
		}
		if want := []string{"https://a.example.com/hook"}; !reflect.DeepEqual(urls, want) {
			t.Errorf("MatchURLs() = %v, want %v", urls, want)
		}
	})

	t.Run("version read failure bypasses the cache", func(t *testing.T) {
		inner := NewMemoryStore()
		seedEndpoint(t, inner, 1, "https://a.example.com/hook")
		cs, client, buf := newCachedTestStore(t, inner)
		client.EXPECT().Do(gomock.Any(), mock.Match("GET", versionKey(1))).
			Return(mock.ErrorResult(errors.New("connection refused")))

		urls, err := cs.MatchURLs(ctx, event.ArticleCreated, 1)
		if err != nil {
			t.Fatalf("MatchURLs() error: %v", err)
		}
		if len(urls) != 1 {
			t.Errorf("MatchURLs() = %v, want one url", urls)
		}
		if !bytes.Contains(buf.Bytes(), []byte("endpoint cache version read failed")) {
			t.Errorf("expected a warning, got %q", buf.String())
		}
	})
}

// A write that commits while a miss is reading the store must not leave the
// stale list where later reads find it.
func TestCachedStoreWriteDuringMiss(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	seedEndpoint(t, inner, 1, "https://old.example.com/hook")

	racing := &racingStore{Store: inner}
	cs, client, _ := newCachedTestStore(t, racing)
	racing.during = func() {
		seedEndpoint(t, cs, 1, "https://new.example.com/hook")
	}

	staleKey := matchKey(1, 0, event.ArticleCreated)
	freshKey := matchKey(1, 1, event.ArticleCreated)
	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), mock.Match("GET", versionKey(1))).
			Return(mock.Result(mock.RedisNil())),
		client.EXPECT().DoCache(gomock.Any(), mock.Match("GET", staleKey), testCacheTTL).
			Return(mock.Result(mock.RedisNil())),
		client.EXPECT().Do(gomock.Any(), mock.Match("INCR", versionKey(1))).
			Return(mock.Result(mock.RedisInt64(1))),
		client.EXPECT().Do(gomock.Any(), mock.Match("SET", staleKey, `["https://old.example.com/hook"]`, "EX", "60")).
			Return(mock.Result(mock.RedisString("OK"))),
		client.EXPECT().Do(gomock.Any(), mock.Match("GET", versionKey(1))).
			Return(mock.Result(mock.RedisString("1"))),
		client.EXPECT().DoCache(gomock.Any(), mock.Match("GET", freshKey), testCacheTTL).
			Return(mock.Result(mock.RedisNil())),
		client.EXPECT().Do(gomock.Any(), mock.Match("SET", freshKey, `["https://old.example.com/hook","https://new.example.com/hook"]`, "EX", "60")).
			Return(mock.Result(mock.RedisString("OK"))),
	)

	if _, err := cs.MatchURLs(ctx, event.ArticleCreated, 1); err != nil {
		t.Fatalf("first MatchURLs() error: %v", err)
	}
	urls, err := cs.MatchURLs(ctx, event.ArticleCreated, 1)
	if err != nil {
		t.Fatalf("second MatchURLs() error: %v", err)
	}
	want := []string{"https://old.example.com/hook", "https://new.example.com/hook"}
	if !reflect.DeepEqual(urls, want) {
		t.Errorf("MatchURLs() after write = %v, want %v", urls, want)
	}
}

func TestCachedStoreWritesBumpVersion(t *testing.T) {
	ctx := context.Background()
	cs, client, _ := newCachedTestStore(t, NewMemoryStore())
	client.EXPECT().Do(gomock.Any(), mock.Match("INCR", versionKey(5))).
		Return(mock.Result(mock.RedisInt64(1))).Times(3)

	ep := &Endpoint{OwnerID: 5, ApplicationID: int64Ptr(9), TargetURL: "https://a.example.com/hook", Events: []event.Type{event.ArticleCreated}}
	if err := cs.Insert(ctx, ep); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if _, err := cs.UpdateEvents(ctx, ep.ID, 5, []event.Type{event.ArticleDestroyed}); err != nil {
		t.Fatalf("UpdateEvents() error: %v", err)
	}
	if n, err := cs.DeleteByOwnerAndApplication(ctx, 5, 9); err != nil || n != 1 {
		t.Fatalf("DeleteByOwnerAndApplication() = %d, %v", n, err)
	}
	// nothing left to delete, so no further bump
	if n, err := cs.DeleteByOwnerAndApplication(ctx, 5, 9); err != nil || n != 0 {
		t.Fatalf("second DeleteByOwnerAndApplication() = %d, %v", n, err)
	}
}
