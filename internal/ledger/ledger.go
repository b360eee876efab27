// Package ledger owns collateral positions: deposit, mint finalization,
// proportional withdrawal, and the emergency refund path. Every mutation
// runs under a single mutex so no caller ever observes a partially updated
// position. All monetary values use shopspring/decimal — never float64.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/limits"
	"github.com/synthvault/collateral-engine/internal/metrics"
	"github.com/synthvault/collateral-engine/internal/model"
	"github.com/synthvault/collateral-engine/internal/store"
	"github.com/synthvault/collateral-engine/internal/token"
	"github.com/synthvault/collateral-engine/internal/valuation"
)

// bpsScale converts a basis-point ratio into a divisor: minted = value * 10000 / ratio.
var bpsScale = decimal.NewFromInt(10000)

// Submitter hands a new position to the risk-assessment orchestrator.
// Implemented by the orchestrator; injected to avoid a package cycle.
type Submitter interface {
	// Ready reports whether submissions are currently accepted. Returns
	// ErrSystemPaused while the circuit breaker is open.
	Ready() error

	// Submit registers a risk-assessment request for the position and
	// returns the external request id.
	Submit(ctx context.Context, p *model.Position, prices map[string]decimal.Decimal) (string, error)
}

// Ledger is the collateral position ledger.
type Ledger struct {
	store     store.Store
	mover     token.Mover
	synthetic token.Synthetic
	gateway   *valuation.Gateway
	limiter   *limits.DepositLimiter // optional, nil disables caps
	supported map[string]bool
	submitter Submitter
	now       func() time.Time

	mu sync.Mutex // serializes all position mutation
}

// New creates a ledger. now defaults to time.Now; the submitter must be
// bound with Bind before the first deposit. limiter may be nil.
func New(st store.Store, mover token.Mover, synthetic token.Synthetic,
	gateway *valuation.Gateway, limiter *limits.DepositLimiter,
	supportedAssets []string, now func() time.Time) *Ledger {

	if now == nil {
		now = time.Now
	}
	supported := make(map[string]bool, len(supportedAssets))
	for _, a := range supportedAssets {
		supported[a] = true
	}
	return &Ledger{
		store:     st,
		mover:     mover,
		synthetic: synthetic,
		gateway:   gateway,
		limiter:   limiter,
		supported: supported,
		now:       now,
	}
}

// Bind attaches the orchestrator. Called once during wiring.
func (l *Ledger) Bind(sub Submitter) { l.submitter = sub }

// Deposit locks a basket of collateral, values it, and opens a position in
// the pending-request state. All validation and the paused check happen
// before any asset moves; a failed submission rolls the transfers back, so
// the operation is all-or-nothing.
func (l *Ledger) Deposit(ctx context.Context, owner string, basket []model.BasketItem) (*model.Position, error) {
	if len(basket) == 0 {
		return nil, fmt.Errorf("%w: empty basket", model.ErrZeroAmount)
	}
	for _, item := range basket {
		if !l.supported[item.Asset] {
			return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedAsset, item.Asset)
		}
		if !item.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: %s %s", model.ErrZeroAmount, item.Asset, item.Amount)
		}
	}
	if err := l.submitter.Ready(); err != nil {
		return nil, err
	}

	total, snapshot, err := l.gateway.BasketValue(ctx, basket)
	if err != nil {
		return nil, err
	}

	if l.limiter != nil {
		pending, err := l.pendingValue(ctx, owner)
		if err != nil {
			return nil, err
		}
		if err := l.limiter.Check(total, pending); err != nil {
			return nil, err
		}
	}

	// No l.mu here: the position is invisible to other operations until
	// CreatePosition, and taking the ledger lock around Submit would
	// invert the orchestrator->ledger lock order used by fulfillment.

	// Pull assets in; unwind on partial failure.
	pulled := make([]model.BasketItem, 0, len(basket))
	for _, item := range basket {
		if err := l.mover.TransferIn(ctx, item.Asset, owner, item.Amount); err != nil {
			l.unwind(ctx, owner, pulled)
			return nil, fmt.Errorf("%w: transfer in %s: %v", model.ErrExternalCallFailed, item.Asset, err)
		}
		pulled = append(pulled, item)
	}

	pos := &model.Position{
		ID:            uuid.New().String(),
		Owner:         owner,
		Basket:        append([]model.BasketItem(nil), basket...),
		TotalValueUSD: total,
		MintedAmount:  decimal.Zero,
		State:         model.StatePendingRequest,
		CreatedAt:     l.now(),
	}

	requestID, err := l.submitter.Submit(ctx, pos, snapshot)
	if err != nil {
		l.unwind(ctx, owner, pulled)
		return nil, err
	}
	pos.RequestID = requestID

	if err := l.store.CreatePosition(ctx, pos); err != nil {
		l.unwind(ctx, owner, pulled)
		return nil, fmt.Errorf("persist position: %w", err)
	}

	metrics.DepositsTotal.Inc()
	slog.Info("deposit accepted",
		"position", pos.ID,
		"owner", owner,
		"assets", len(basket),
		"total_usd", total.String(),
		"request", requestID,
	)
	return pos, nil
}

// pendingValue sums the owner's USD value still awaiting risk assessment.
func (l *Ledger) pendingValue(ctx context.Context, owner string) (decimal.Decimal, error) {
	positions, err := l.store.ListPositionsByOwner(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	pending := decimal.Zero
	for _, p := range positions {
		if p.State == model.StatePendingRequest {
			pending = pending.Add(p.TotalValueUSD)
		}
	}
	return pending, nil
}

// unwind returns already-pulled assets after a failed deposit.
func (l *Ledger) unwind(ctx context.Context, owner string, pulled []model.BasketItem) {
	for _, item := range pulled {
		if err := l.mover.TransferOut(ctx, item.Asset, owner, item.Amount); err != nil {
			slog.Error("deposit unwind failed", "asset", item.Asset, "owner", owner, "err", err)
		}
	}
}

// recoup pulls already-paid assets back into the vault after a payout
// failed midway, so the vault keeps covering the still-open position and a
// retry pays the full basket exactly once.
func (l *Ledger) recoup(ctx context.Context, owner string, paid []model.BasketItem) {
	for _, item := range paid {
		if err := l.mover.TransferIn(ctx, item.Asset, owner, item.Amount); err != nil {
			slog.Error("payout recoup failed", "asset", item.Asset, "owner", owner, "err", err)
		}
	}
}

// FinalizeMint applies the assessed ratio, issues synthetic units to the
// owner, and moves the position to the minted state. Only the orchestrator
// calls this; the ratio arrives already clamped into the configured window.
func (l *Ledger) FinalizeMint(ctx context.Context, positionID string, ratioBps, confidence int64) (*model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.State != model.StatePendingRequest {
		return nil, fmt.Errorf("%w: position %s is %s", model.ErrAlreadyProcessed, positionID, pos.State)
	}

	minted := MintedFor(pos.TotalValueUSD, ratioBps)
	if err := l.synthetic.Mint(ctx, pos.Owner, minted); err != nil {
		return nil, fmt.Errorf("%w: mint: %v", model.ErrExternalCallFailed, err)
	}

	pos.AppliedRatioBps = ratioBps
	pos.Confidence = confidence
	pos.MintedAmount = minted
	pos.State = model.StateMinted

	if err := l.store.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist mint: %w", err)
	}

	slog.Info("mint finalized",
		"position", pos.ID,
		"owner", pos.Owner,
		"ratio_bps", ratioBps,
		"confidence", confidence,
		"minted", minted.String(),
	)
	return pos, nil
}

// MintedFor computes the issuance for a collateral value at a ratio:
// value * 10000 / ratioBps, rounded to 8 decimal places.
func MintedFor(totalValueUSD decimal.Decimal, ratioBps int64) decimal.Decimal {
	return totalValueUSD.Mul(bpsScale).DivRound(decimal.NewFromInt(ratioBps), 8)
}

// Withdraw burns synthetic units against a minted position and returns the
// proportional per-asset share: amount_i * burn / minted for each asset.
// Burning the full minted amount returns the entire remaining basket and
// closes the position.
func (l *Ledger) Withdraw(ctx context.Context, owner, positionID string, burn decimal.Decimal) (*model.Withdrawal, error) {
	if !burn.IsPositive() {
		return nil, fmt.Errorf("%w: burn %s", model.ErrZeroAmount, burn)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.Owner != owner {
		return nil, fmt.Errorf("%w: %s does not own position %s", model.ErrNotAuthorized, owner, positionID)
	}
	if pos.State != model.StateMinted {
		return nil, fmt.Errorf("%w: position %s is %s", model.ErrPositionNotWithdrawable, positionID, pos.State)
	}
	if burn.GreaterThan(pos.MintedAmount) {
		return nil, fmt.Errorf("%w: burn %s > minted %s", model.ErrInsufficientMinted, burn, pos.MintedAmount)
	}

	if err := l.synthetic.Burn(ctx, owner, burn); err != nil {
		return nil, fmt.Errorf("%w: burn: %v", model.ErrExternalCallFailed, err)
	}

	full := burn.Equal(pos.MintedAmount)
	returned := make([]model.BasketItem, 0, len(pos.Basket))
	for i := range pos.Basket {
		// Full burns return the exact remainder so no dust is stranded.
		share := pos.Basket[i].Amount
		if !full {
			share = pos.Basket[i].Amount.Mul(burn).DivRound(pos.MintedAmount, 8)
		}
		returned = append(returned, model.BasketItem{Asset: pos.Basket[i].Asset, Amount: share})
		pos.Basket[i].Amount = pos.Basket[i].Amount.Sub(share)
	}

	paid := make([]model.BasketItem, 0, len(returned))
	for _, item := range returned {
		if err := l.mover.TransferOut(ctx, item.Asset, owner, item.Amount); err != nil {
			// All-or-nothing: take back what was paid and restore the
			// burned synthetic so the stored position stays accurate.
			l.recoup(ctx, owner, paid)
			if merr := l.synthetic.Mint(ctx, owner, burn); merr != nil {
				slog.Error("restore burned synthetic failed", "owner", owner, "amount", burn.String(), "err", merr)
			}
			return nil, fmt.Errorf("%w: transfer out %s: %v", model.ErrExternalCallFailed, item.Asset, err)
		}
		paid = append(paid, item)
	}

	pos.MintedAmount = pos.MintedAmount.Sub(burn)
	if pos.MintedAmount.IsZero() {
		pos.State = model.StateClosed
	}
	if err := l.store.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist withdrawal: %w", err)
	}

	metrics.WithdrawalsTotal.Inc()
	slog.Info("withdrawal executed",
		"position", pos.ID,
		"owner", owner,
		"burned", burn.String(),
		"closed", pos.MintedAmount.IsZero(),
	)
	return &model.Withdrawal{
		PositionID: pos.ID,
		Burned:     burn,
		Returned:   returned,
		Closed:     pos.State == model.StateClosed,
	}, nil
}

// EmergencyRefund returns 100% of the originally deposited assets for a
// still-pending position and closes it. This path never mints and never
// touches ratio math. It consumes the position's request so a late
// fulfillment cannot mint against a refunded position. trigger labels the
// caller for metrics (strategy, bypass, sweep).
func (l *Ledger) EmergencyRefund(ctx context.Context, positionID, trigger string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.refundLocked(ctx, positionID, trigger)
}

func (l *Ledger) refundLocked(ctx context.Context, positionID, trigger string) error {
	pos, err := l.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.State != model.StatePendingRequest {
		return fmt.Errorf("%w: position %s is %s", model.ErrAlreadyProcessed, positionID, pos.State)
	}

	req, err := l.store.GetRequest(ctx, pos.RequestID)
	if err != nil {
		return err
	}
	if req.Processed {
		return fmt.Errorf("%w: request %s", model.ErrAlreadyProcessed, req.ID)
	}

	paid := make([]model.BasketItem, 0, len(pos.Basket))
	for _, item := range pos.Basket {
		if err := l.mover.TransferOut(ctx, item.Asset, pos.Owner, item.Amount); err != nil {
			// All-or-nothing: a retry must pay the basket exactly once.
			l.recoup(ctx, pos.Owner, paid)
			return fmt.Errorf("%w: refund %s: %v", model.ErrExternalCallFailed, item.Asset, err)
		}
		paid = append(paid, item)
	}

	req.Processed = true
	if err := l.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("persist request: %w", err)
	}
	pos.State = model.StateClosed
	if err := l.store.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("persist refund: %w", err)
	}

	metrics.RefundsTotal.WithLabelValues(trigger).Inc()
	slog.Info("emergency refund executed",
		"position", pos.ID,
		"owner", pos.Owner,
		"trigger", trigger,
	)
	return nil
}

// OwnerBypassRefund is the final rung of the timeout ladder: once the vault
// bypass eligibility elapses, the position owner may claim the refund
// directly, without the orchestrator, so a compromised or paused
// orchestrator can never trap funds.
func (l *Ledger) OwnerBypassRefund(ctx context.Context, caller, positionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Owner != caller {
		return fmt.Errorf("%w: %s does not own position %s", model.ErrNotAuthorized, caller, positionID)
	}
	req, err := l.store.GetRequest(ctx, pos.RequestID)
	if err != nil {
		return err
	}
	if l.now().Before(req.VaultBypassEligibleAt) {
		return fmt.Errorf("%w: vault bypass at %s", model.ErrNotEligibleYet,
			req.VaultBypassEligibleAt.Format(time.RFC3339))
	}
	return l.refundLocked(ctx, positionID, "bypass")
}

// Position returns one position by id.
func (l *Ledger) Position(ctx context.Context, id string) (*model.Position, error) {
	return l.store.GetPosition(ctx, id)
}

// PositionsByOwner returns all of an owner's positions, oldest first.
func (l *Ledger) PositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return l.store.ListPositionsByOwner(ctx, owner)
}
