// Package sweep automates the final recovery rung for opted-in users: a
// bounded, cursor-based round-robin scan over the automation registry that
// finds pending positions past their emergency eligibility, and a second
// call that executes the refunds. The per-call work budget is fixed so the
// external trigger's resource ceiling is never exceeded, and the cursor
// advances past the scanned range whether or not anything matched, so no
// user is starved as the population grows.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synthvault/collateral-engine/internal/metrics"
	"github.com/synthvault/collateral-engine/internal/model"
	"github.com/synthvault/collateral-engine/internal/store"
)

// Refunder executes the refund for one position. Implemented by
// *ledger.Ledger.
type Refunder interface {
	EmergencyRefund(ctx context.Context, positionID, trigger string) error
}

// Sweeper scans the automation registry and triggers emergency refunds.
type Sweeper struct {
	store     store.Store
	refunder  Refunder
	batchSize int
	now       func() time.Time

	mu sync.Mutex // one scan or execute at a time
}

// New creates a sweeper with a fixed per-scan user budget.
func New(st store.Store, refunder Refunder, batchSize int, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:     st,
		refunder:  refunder,
		batchSize: batchSize,
		now:       now,
	}
}

// OptIn registers a user for automated emergency refunds.
func (s *Sweeper) OptIn(ctx context.Context, user string) error {
	return s.store.AddAutomationUser(ctx, user)
}

// OptOut removes a user from the registry.
func (s *Sweeper) OptOut(ctx context.Context, user string) error {
	return s.store.RemoveAutomationUser(ctx, user)
}

// Scan walks up to batchSize opted-in users starting at the persisted
// cursor and collects the ids of their pending positions whose emergency
// eligibility has elapsed. Read-only apart from advancing the cursor.
func (s *Sweeper) Scan(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.store.ListAutomationUsers(ctx)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	cursor, err := s.store.GetSweepCursor(ctx)
	if err != nil {
		return nil, err
	}
	start := cursor % len(users)

	span := s.batchSize
	if span > len(users) {
		span = len(users)
	}

	now := s.now()
	var collected []string
	for i := 0; i < span; i++ {
		user := users[(start+i)%len(users)]
		eligible, err := s.eligiblePositions(ctx, user, now)
		if err != nil {
			slog.Warn("sweep scan skipping user", "user", user, "err", err)
			continue
		}
		collected = append(collected, eligible...)
	}

	// Advance past the scanned range even when nothing matched.
	if err := s.store.SetSweepCursor(ctx, (start+span)%len(users)); err != nil {
		return nil, err
	}

	metrics.SweepCollected.Observe(float64(len(collected)))
	slog.Info("sweep scan complete", "scanned_users", span, "collected", len(collected))
	return collected, nil
}

func (s *Sweeper) eligiblePositions(ctx context.Context, user string, now time.Time) ([]string, error) {
	positions, err := s.store.ListPositionsByOwner(ctx, user)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, pos := range positions {
		if pos.State != model.StatePendingRequest {
			continue
		}
		req, err := s.store.GetRequest(ctx, pos.RequestID)
		if err != nil {
			slog.Warn("sweep scan skipping position", "position", pos.ID, "err", err)
			continue
		}
		if !now.Before(req.EmergencyEligibleAt) {
			out = append(out, pos.ID)
		}
	}
	return out, nil
}

// Execute refunds each collected position, re-verifying opt-in and
// eligibility so a forged id list cannot trigger an early refund. One
// stuck position never blocks the batch; it returns how many refunds
// succeeded.
func (s *Sweeper) Execute(ctx context.Context, positionIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.store.ListAutomationUsers(ctx)
	if err != nil {
		return 0, err
	}
	optedIn := make(map[string]bool, len(users))
	for _, u := range users {
		optedIn[u] = true
	}

	now := s.now()
	refunded := 0
	for _, id := range positionIDs {
		if err := s.executeOne(ctx, id, optedIn, now); err != nil {
			slog.Warn("sweep refund failed", "position", id, "err", err)
			continue
		}
		refunded++
	}
	return refunded, nil
}

func (s *Sweeper) executeOne(ctx context.Context, positionID string, optedIn map[string]bool, now time.Time) error {
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if !optedIn[pos.Owner] {
		return model.ErrNotAuthorized
	}
	req, err := s.store.GetRequest(ctx, pos.RequestID)
	if err != nil {
		return err
	}
	if now.Before(req.EmergencyEligibleAt) {
		return model.ErrNotEligibleYet
	}
	return s.refunder.EmergencyRefund(ctx, positionID, "sweep")
}
