// Package store defines the persistence interface for the collateral engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/synthvault/collateral-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Positions are never deleted:
// closed positions remain addressable tombstones.
type Store interface {
	// --- Position arena ---

	// CreatePosition persists a new position.
	CreatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// UpdatePosition replaces the stored position state.
	UpdatePosition(ctx context.Context, p *model.Position) error

	// ListPositionsByOwner returns all positions for an owner, oldest first.
	ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error)

	// --- Request table ---

	// CreateRequest persists a new risk-assessment request.
	CreateRequest(ctx context.Context, r *model.Request) error

	// GetRequest retrieves a request by its ID.
	GetRequest(ctx context.Context, id string) (*model.Request, error)

	// UpdateRequest replaces the stored request state.
	UpdateRequest(ctx context.Context, r *model.Request) error

	// --- Automation registry ---

	// AddAutomationUser opts a user in to automated emergency refunds.
	AddAutomationUser(ctx context.Context, user string) error

	// RemoveAutomationUser opts a user out.
	RemoveAutomationUser(ctx context.Context, user string) error

	// ListAutomationUsers returns opted-in users in a stable sorted order.
	ListAutomationUsers(ctx context.Context) ([]string, error)

	// GetSweepCursor / SetSweepCursor persist the round-robin scan cursor.
	GetSweepCursor(ctx context.Context) (int, error)
	SetSweepCursor(ctx context.Context, cursor int) error
}
