// Package model defines the core domain types shared across the collateral
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of a collateral position.
type PositionState int32

const (
	// StatePendingRequest - collateral is locked, risk assessment not yet
	// answered. No withdrawal is possible in this state.
	StatePendingRequest PositionState = iota
	// StateMinted - the risk ratio was applied and synthetic units were
	// issued to the owner.
	StateMinted
	// StateClosed - fully withdrawn or emergency-refunded. Tombstone: the
	// position record stays addressable but can never be reused.
	StateClosed
)

func (s PositionState) String() string {
	switch s {
	case StatePendingRequest:
		return "pending_request"
	case StateMinted:
		return "minted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BasketItem is one (asset, amount) pair of a collateral basket.
type BasketItem struct {
	Asset  string          `json:"asset" db:"asset"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// Position is a single deposit's collateral basket plus its mint and
// withdrawal accounting. Created on deposit, mutated only by mint
// finalization and withdrawal, tombstoned on full withdrawal or refund.
type Position struct {
	ID              string          `json:"id" db:"id"`
	Owner           string          `json:"owner" db:"owner"`
	Basket          []BasketItem    `json:"basket"`
	TotalValueUSD   decimal.Decimal `json:"total_value_usd" db:"total_value_usd"` // fixed at deposit time
	MintedAmount    decimal.Decimal `json:"minted_amount" db:"minted_amount"`     // 0 until finalized
	AppliedRatioBps int64           `json:"applied_ratio_bps" db:"applied_ratio_bps"`
	Confidence      int64           `json:"confidence" db:"confidence"` // 0-100
	RequestID       string          `json:"request_id" db:"request_id"`
	State           PositionState   `json:"state" db:"state"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Request is the risk-assessment request created 1:1 with a Position at
// submission and consumed exactly once. The eligibility timestamps are
// derived at creation and never change; they are the timeout ladder.
type Request struct {
	ID          string `json:"id" db:"id"`
	PositionID  string `json:"position_id" db:"position_id"`
	Fingerprint string `json:"fingerprint" db:"fingerprint"` // sha256 over basket + submission time
	Processed   bool   `json:"processed" db:"processed"`
	RetryCount  int    `json:"retry_count" db:"retry_count"`

	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	ManualEligibleAt      time.Time `json:"manual_eligible_at" db:"manual_eligible_at"`             // createdAt + T1
	EmergencyEligibleAt   time.Time `json:"emergency_eligible_at" db:"emergency_eligible_at"`       // createdAt + T2
	VaultBypassEligibleAt time.Time `json:"vault_bypass_eligible_at" db:"vault_bypass_eligible_at"` // createdAt + T3
}

// Withdrawal is the result of burning synthetic units against a position:
// the per-asset share returned to the owner.
type Withdrawal struct {
	PositionID string          `json:"position_id"`
	Burned     decimal.Decimal `json:"burned"`
	Returned   []BasketItem    `json:"returned"`
	Closed     bool            `json:"closed"` // mintedAmount reached zero
}
