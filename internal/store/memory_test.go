package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/model"
)

func testPosition(id, owner string) *model.Position {
	return &model.Position{
		ID:    id,
		Owner: owner,
		Basket: []model.BasketItem{
			{Asset: "WBTC", Amount: decimal.NewFromInt(1)},
		},
		TotalValueUSD: decimal.NewFromInt(60000),
		State:         model.StatePendingRequest,
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPositionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreatePosition(ctx, testPosition("p1", "alice")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetPosition(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Owner != "alice" || got.State != model.StatePendingRequest {
		t.Errorf("unexpected position: %+v", got)
	}

	got.State = model.StateMinted
	if err := s.UpdatePosition(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.GetPosition(ctx, "p1")
	if again.State != model.StateMinted {
		t.Errorf("update not persisted, state %s", again.State)
	}
}

func TestPositionNotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetPosition(ctx, "nope"); !errors.Is(err, model.ErrPositionNotFound) {
		t.Errorf("get: expected ErrPositionNotFound, got %v", err)
	}
	if err := s.UpdatePosition(ctx, testPosition("nope", "alice")); !errors.Is(err, model.ErrPositionNotFound) {
		t.Errorf("update: expected ErrPositionNotFound, got %v", err)
	}
	if _, err := s.GetRequest(ctx, "nope"); !errors.Is(err, model.ErrRequestNotFound) {
		t.Errorf("get request: expected ErrRequestNotFound, got %v", err)
	}
}

func TestGetPositionReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreatePosition(ctx, testPosition("p1", "alice"))

	got, _ := s.GetPosition(ctx, "p1")
	got.Basket[0].Amount = decimal.NewFromInt(999)
	got.State = model.StateClosed

	// Mutating the returned value must not leak into the store.
	clean, _ := s.GetPosition(ctx, "p1")
	if clean.State != model.StatePendingRequest {
		t.Error("caller mutation leaked into stored state")
	}
	if !clean.Basket[0].Amount.Equal(decimal.NewFromInt(1)) {
		t.Error("caller mutation leaked into stored basket")
	}
}

func TestListPositionsByOwner_InsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreatePosition(ctx, testPosition("p1", "alice"))
	s.CreatePosition(ctx, testPosition("p2", "bob"))
	s.CreatePosition(ctx, testPosition("p3", "alice"))

	got, err := s.ListPositionsByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p1" || got[1].ID != "p3" {
		t.Errorf("expected [p1 p3], got %+v", got)
	}

	empty, _ := s.ListPositionsByOwner(ctx, "nobody")
	if len(empty) != 0 {
		t.Errorf("expected empty list, got %+v", empty)
	}
}

func TestAutomationRegistry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.AddAutomationUser(ctx, "carol")
	s.AddAutomationUser(ctx, "alice")
	s.AddAutomationUser(ctx, "bob")
	s.AddAutomationUser(ctx, "alice") // idempotent

	users, err := s.ListAutomationUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %v", users)
	}
	// Sorted so the sweep cursor walks a stable order.
	if users[0] != "alice" || users[1] != "bob" || users[2] != "carol" {
		t.Errorf("expected sorted users, got %v", users)
	}

	s.RemoveAutomationUser(ctx, "bob")
	s.RemoveAutomationUser(ctx, "bob") // idempotent
	users, _ = s.ListAutomationUsers(ctx)
	if len(users) != 2 {
		t.Errorf("expected 2 users after removal, got %v", users)
	}
}

func TestSweepCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cursor, err := s.GetSweepCursor(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cursor != 0 {
		t.Errorf("cursor should start at 0, got %d", cursor)
	}

	if err := s.SetSweepCursor(ctx, 7); err != nil {
		t.Fatalf("set: %v", err)
	}
	cursor, _ = s.GetSweepCursor(ctx)
	if cursor != 7 {
		t.Errorf("expected cursor 7, got %d", cursor)
	}
}
