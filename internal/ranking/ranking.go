package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"milenio/internal/repo"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
	keyPrefix    = "ranking:top:"
)

// Cache stores JSON snapshots. *cache.Redis satisfies it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Store lists users ordered by points.
type Store interface {
	ListTopUsers(ctx context.Context, limit int) ([]repo.User, error)
}

// Entry is one ranking row.
type Entry struct {
	Position       int    `json:"position"`
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	TotalPoints    int64  `json:"totalPoints"`
	CorrectAnswers int64  `json:"correctAnswers"`
}

type snapshot struct {
	entries []Entry
	expires time.Time
}

// Service serves the ranking through a time-windowed cache. Without a shared cache it keeps its own
// in-process window.
type Service struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local map[int]snapshot
}

// NewService builds a Service. cache may be nil.
func NewService(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "ranking"),
		now:    time.Now,
		local:  map[int]snapshot{},
	}
}

// ClampLimit bounds a requested ranking size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Top returns the top users by points.
func (s *Service) Top(ctx context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	if s.ttl <= 0 {
		return s.load(ctx, limit)
	}

	key := keyPrefix + strconv.Itoa(limit)
	if s.cache != nil {
		var cached []Entry
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("ranking cache read failed", "error", err)
		} else if found {
			return cached, nil
		}
	} else if entries, ok := s.fromLocal(limit); ok {
		return entries, nil
	}

	entries, err := s.load(ctx, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, entries, s.ttl); err != nil {
			s.logger.Warn("ranking cache write failed", "error", err)
		}
	} else {
		s.mu.Lock()
		s.local[limit] = snapshot{entries: entries, expires: s.now().Add(s.ttl)}
		s.mu.Unlock()
	}
	return entries, nil
}

func (s *Service) fromLocal(limit int) ([]Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.local[limit]
	if !ok || !s.now().Before(snap.expires) {
		return nil, false
	}
	return snap.entries, true
}

func (s *Service) load(ctx context.Context, limit int) ([]Entry, error) {
	users, err := s.store.ListTopUsers(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list top users: %w", err)
	}
	entries := make([]Entry, 0, len(users))
	for i, u := range users {
		entries = append(entries, Entry{
			Position:       i + 1,
			UserID:         u.ID,
			Name:           u.Name,
			TotalPoints:    u.TotalPoints,
			CorrectAnswers: u.CorrectAnswers,
		})
	}
	return entries, nil
}
