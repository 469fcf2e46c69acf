package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"milenio/internal/logging"
	"milenio/internal/repo"
)

type countingStore struct {
	users []repo.User
	calls int
	err   error
}

func (s *countingStore) ListTopUsers(_ context.Context, limit int) ([]repo.User, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.users) {
		return s.users[:limit], nil
	}
	return s.users, nil
}

type mapCache struct {
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	c.ttls[key] = ttl
	return nil
}

func sampleUsers() []repo.User {
	return []repo.User{
		{ID: "a", Name: "Ana", TotalPoints: 90},
		{ID: "b", Name: "Bia", TotalPoints: 70},
		{ID: "c", Name: "Caio", TotalPoints: 10},
	}
}

func TestTopUsesSharedCache(t *testing.T) {
	store := &countingStore{users: sampleUsers()}
	cache := newMapCache()
	svc := NewService(store, cache, 5*time.Minute, logging.Discard())
	ctx := context.Background()

	first, err := svc.Top(ctx, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(first) != 2 || first[0].UserID != "a" || first[1].Position != 2 {
		t.Fatalf("unexpected ranking %+v", first)
	}
	if cache.ttls["ranking:top:2"] != 5*time.Minute {
		t.Fatalf("expected cached with ttl, got %v", cache.ttls)
	}

	if _, err := svc.Top(ctx, 2); err != nil {
		t.Fatalf("top: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected one store call, got %d", store.calls)
	}
}

func TestTopLocalWindowExpires(t *testing.T) {
	store := &countingStore{users: sampleUsers()}
	svc := NewService(store, nil, time.Minute, logging.Discard())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Top(ctx, 0); err != nil {
			t.Fatalf("top: %v", err)
		}
	}
	if store.calls != 1 {
		t.Fatalf("expected one store call inside window, got %d", store.calls)
	}

	now = now.Add(time.Minute)
	if _, err := svc.Top(ctx, 0); err != nil {
		t.Fatalf("top: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("expected refresh after window, got %d calls", store.calls)
	}
}

func TestTopStoreError(t *testing.T) {
	svc := NewService(&countingStore{err: errors.New("boom")}, nil, time.Minute, logging.Discard())
	if _, err := svc.Top(context.Background(), 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultLimit, 0: DefaultLimit, 7: 7, 1000: MaxLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
