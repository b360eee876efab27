// Package limits enforces deposit exposure caps: how much USD value a
// single position may lock, and how much aggregate pending value one owner
// may have awaiting risk assessment at once. Pending positions are the
// window where funds depend on the timeout ladder, so the cap bounds the
// blast radius of an oracle outage per user.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrDepositValueExceeded is returned when a single basket's USD value
	// exceeds the per-deposit cap.
	ErrDepositValueExceeded = errors.New("limits: deposit value cap exceeded")

	// ErrPendingValueExceeded is returned when the owner's aggregate
	// pending USD value, including this deposit, would exceed the cap.
	ErrPendingValueExceeded = errors.New("limits: pending exposure cap exceeded")
)

// DepositLimiter caps deposit exposure. A zero cap disables that check.
type DepositLimiter struct {
	// MaxDepositUSD is the maximum USD value of a single basket.
	MaxDepositUSD decimal.Decimal

	// MaxPendingUSD is the maximum aggregate USD value one owner may hold
	// in positions still awaiting risk assessment.
	MaxPendingUSD decimal.Decimal
}

// NewDepositLimiter creates a limiter with the given per-deposit and
// aggregate pending caps.
func NewDepositLimiter(maxDepositUSD, maxPendingUSD decimal.Decimal) *DepositLimiter {
	return &DepositLimiter{
		MaxDepositUSD: maxDepositUSD,
		MaxPendingUSD: maxPendingUSD,
	}
}

// Check validates a prospective deposit.
//
// Parameters:
//   - depositUSD: USD value of the basket being deposited
//   - pendingUSD: owner's current aggregate pending USD value
//
// Returns nil if the deposit is within limits, or an error naming the
// violated cap.
func (l *DepositLimiter) Check(depositUSD, pendingUSD decimal.Decimal) error {
	if l.MaxDepositUSD.IsPositive() && depositUSD.GreaterThan(l.MaxDepositUSD) {
		return ErrDepositValueExceeded
	}
	if l.MaxPendingUSD.IsPositive() && pendingUSD.Add(depositUSD).GreaterThan(l.MaxPendingUSD) {
		return ErrPendingValueExceeded
	}
	return nil
}
