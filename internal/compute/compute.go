// Package compute defines the asynchronous risk-scoring collaborator. The
// engine hands it a priced basket and gets back an opaque request id; the
// answer — if one ever arrives — comes later through the orchestrator's
// fulfillment entry point, never as a blocking wait.
package compute

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/model"
)

// Payload is the submission package: the basket, its USD valuation, and the
// price snapshot the valuation was computed from.
type Payload struct {
	PositionID    string                     `json:"position_id"`
	Basket        []model.BasketItem         `json:"basket"`
	TotalValueUSD decimal.Decimal            `json:"total_value_usd"`
	Prices        map[string]decimal.Decimal `json:"prices"`
	SubmittedAt   time.Time                  `json:"submitted_at"`
}

// Client submits risk-assessment work to the external compute service.
// The returned request id is opaque and caller-unpredictable.
type Client interface {
	Submit(ctx context.Context, payload Payload) (requestID string, err error)
}

// Stub is an in-memory Client for dev and tests. It accepts every
// submission, mints a uuid request id, and records the payload so tests
// can drive fulfillment explicitly.
type Stub struct {
	mu       sync.Mutex
	payloads map[string]Payload
}

// NewStub creates an empty stub compute client.
func NewStub() *Stub {
	return &Stub{payloads: make(map[string]Payload)}
}

func (s *Stub) Submit(_ context.Context, payload Payload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.payloads[id] = payload
	return id, nil
}

// Payload returns the recorded submission for a request id.
func (s *Stub) Payload(requestID string) (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payloads[requestID]
	return p, ok
}
