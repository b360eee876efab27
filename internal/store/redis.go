package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synthvault/collateral-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for position and request lookups. Writes go to the primary store
// and invalidate the cache; reads check Redis first then fall back.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.cachePosition(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpdatePosition(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, positionKey(p.ID))
	return nil
}

func (s *CachedStore) CreateRequest(ctx context.Context, r *model.Request) error {
	if err := s.primary.CreateRequest(ctx, r); err != nil {
		return err
	}
	s.cacheRequest(ctx, r)
	return nil
}

func (s *CachedStore) UpdateRequest(ctx context.Context, r *model.Request) error {
	if err := s.primary.UpdateRequest(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, requestKey(r.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePosition(ctx, p)
	return p, nil
}

func (s *CachedStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	data, err := s.rdb.Get(ctx, requestKey(id)).Bytes()
	if err == nil {
		var r model.Request
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheRequest(ctx, r)
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return s.primary.ListPositionsByOwner(ctx, owner)
}

func (s *CachedStore) AddAutomationUser(ctx context.Context, user string) error {
	return s.primary.AddAutomationUser(ctx, user)
}

func (s *CachedStore) RemoveAutomationUser(ctx context.Context, user string) error {
	return s.primary.RemoveAutomationUser(ctx, user)
}

func (s *CachedStore) ListAutomationUsers(ctx context.Context) ([]string, error) {
	return s.primary.ListAutomationUsers(ctx)
}

func (s *CachedStore) GetSweepCursor(ctx context.Context) (int, error) {
	return s.primary.GetSweepCursor(ctx)
}

func (s *CachedStore) SetSweepCursor(ctx context.Context, cursor int) error {
	return s.primary.SetSweepCursor(ctx, cursor)
}

// --- Cache helpers ---

func (s *CachedStore) cachePosition(ctx context.Context, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(p.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheRequest(ctx context.Context, r *model.Request) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, requestKey(r.ID), data, s.ttl)
	}
}

func positionKey(id string) string { return fmt.Sprintf("position:%s", id) }
func requestKey(id string) string  { return fmt.Sprintf("request:%s", id) }
