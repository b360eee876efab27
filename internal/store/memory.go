package store

import (
	"context"
	"sort"
	"sync"

	"github.com/synthvault/collateral-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	positions  map[string]*model.Position
	ownerOrder map[string][]string // owner -> position IDs, insertion order
	requests   map[string]*model.Request
	automation map[string]bool
	cursor     int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:  make(map[string]*model.Position),
		ownerOrder: make(map[string][]string),
		requests:   make(map[string]*model.Request),
		automation: make(map[string]bool),
	}
}

func copyPosition(p *model.Position) *model.Position {
	cp := *p
	cp.Basket = append([]model.BasketItem(nil), p.Basket...)
	return &cp
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[p.ID] = copyPosition(p)
	s.ownerOrder[p.Owner] = append(s.ownerOrder[p.Owner], p.ID)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, model.ErrPositionNotFound
	}
	return copyPosition(p), nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return model.ErrPositionNotFound
	}
	s.positions[p.ID] = copyPosition(p)
	return nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, owner string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, id := range s.ownerOrder[owner] {
		if p, ok := s.positions[id]; ok {
			out = append(out, *copyPosition(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateRequest(_ context.Context, r *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateRequest(_ context.Context, r *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; !ok {
		return model.ErrRequestNotFound
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) AddAutomationUser(_ context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.automation[user] = true
	return nil
}

func (s *MemoryStore) RemoveAutomationUser(_ context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.automation, user)
	return nil
}

func (s *MemoryStore) ListAutomationUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.automation))
	for u := range s.automation {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) GetSweepCursor(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

func (s *MemoryStore) SetSweepCursor(_ context.Context, cursor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}
