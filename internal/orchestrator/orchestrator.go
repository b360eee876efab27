// Package orchestrator owns the lifecycle of each position's risk-assessment
// request: submission to the external compute service, the single permitted
// fulfillment, and the graduated time-gated recovery strategies that
// guarantee funds can never be trapped by a silent, malicious, or malformed
// oracle.
//
// A submitted request is consumed at most once. The processed flag plus the
// content fingerprint reject replays and mismatched calls at every entry
// point, and each recovery strategy only unlocks for unauthorized callers
// once its eligibility timestamp elapses:
//
//	Submitted -> fulfilled                      (primary, any time)
//	          -> manual AI / default mint       (processors any time, anyone at T1)
//	          -> emergency refund               (processors any time, anyone at T2)
//	          -> owner vault bypass on ledger   (owner, at T3)
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/compute"
	"github.com/synthvault/collateral-engine/internal/config"
	"github.com/synthvault/collateral-engine/internal/health"
	"github.com/synthvault/collateral-engine/internal/metrics"
	"github.com/synthvault/collateral-engine/internal/model"
	"github.com/synthvault/collateral-engine/internal/store"
)

// Finalizer is the ledger surface the orchestrator drives. Implemented by
// *ledger.Ledger; injected to avoid a package cycle.
type Finalizer interface {
	FinalizeMint(ctx context.Context, positionID string, ratioBps, confidence int64) (*model.Position, error)
	EmergencyRefund(ctx context.Context, positionID, trigger string) error
}

// Orchestrator is the risk-assessment request state machine.
type Orchestrator struct {
	store   store.Store
	compute compute.Client
	ledger  Finalizer
	breaker *health.SystemHealth
	cfg     *config.Config
	now     func() time.Time

	mu sync.Mutex // serializes request consumption
}

// New creates an orchestrator. now defaults to time.Now.
func New(st store.Store, client compute.Client, fin Finalizer,
	breaker *health.SystemHealth, cfg *config.Config, now func() time.Time) *Orchestrator {

	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:   st,
		compute: client,
		ledger:  fin,
		breaker: breaker,
		cfg:     cfg,
		now:     now,
	}
}

// Ready reports whether new submissions are accepted. The circuit breaker
// gates this path only; recovery strategies ignore it.
func (o *Orchestrator) Ready() error {
	if o.breaker.Paused() {
		metrics.BreakerPaused.Set(1)
		return model.ErrSystemPaused
	}
	metrics.BreakerPaused.Set(0)
	return nil
}

// Submit packages the priced basket, hands it to the compute service, and
// records the request with its fingerprint and eligibility ladder. Called
// by the ledger during deposit.
func (o *Orchestrator) Submit(ctx context.Context, pos *model.Position, prices map[string]decimal.Decimal) (string, error) {
	if err := o.Ready(); err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	submittedAt := o.now()
	payload := compute.Payload{
		PositionID:    pos.ID,
		Basket:        pos.Basket,
		TotalValueUSD: pos.TotalValueUSD,
		Prices:        prices,
		SubmittedAt:   submittedAt,
	}

	requestID, err := o.compute.Submit(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("%w: compute submit: %v", model.ErrExternalCallFailed, err)
	}

	req := &model.Request{
		ID:                    requestID,
		PositionID:            pos.ID,
		Fingerprint:           fingerprint(pos.Basket, submittedAt),
		CreatedAt:             submittedAt,
		ManualEligibleAt:      submittedAt.Add(o.cfg.ManualTimeout),
		EmergencyEligibleAt:   submittedAt.Add(o.cfg.EmergencyTimeout),
		VaultBypassEligibleAt: submittedAt.Add(o.cfg.VaultBypassTimeout),
	}
	if err := o.store.CreateRequest(ctx, req); err != nil {
		return "", fmt.Errorf("persist request: %w", err)
	}

	slog.Info("risk request submitted",
		"request", requestID,
		"position", pos.ID,
		"manual_at", req.ManualEligibleAt,
		"emergency_at", req.EmergencyEligibleAt,
	)
	return requestID, nil
}

// fingerprint hashes the basket contents and submission time so a replayed
// or cross-wired fulfillment can be rejected by content, not just by id.
func fingerprint(basket []model.BasketItem, submittedAt time.Time) string {
	h := sha256.New()
	for _, item := range basket {
		fmt.Fprintf(h, "%s=%s;", item.Asset, item.Amount.String())
	}
	fmt.Fprintf(h, "t=%d", submittedAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// Fulfill is the primary fulfillment entry point, invoked asynchronously by
// the compute collaborator. A success finalizes the mint and consumes the
// request. An error payload or unparseable response is absorbed into the
// retry counter and the circuit breaker — never surfaced to the depositor —
// leaving the request unprocessed for the timeout ladder.
//
// fp, when non-empty, must match the recorded request fingerprint.
func (o *Orchestrator) Fulfill(ctx context.Context, requestID, fp, response string, failed bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Processed {
		return fmt.Errorf("%w: request %s", model.ErrAlreadyProcessed, requestID)
	}
	if fp != "" && fp != req.Fingerprint {
		return fmt.Errorf("%w: request %s", model.ErrFingerprintMismatch, requestID)
	}

	if failed {
		o.absorbFailure(ctx, req, "error")
		return nil
	}

	ratio, confidence, err := parseResponse(response)
	if err != nil {
		o.absorbFailure(ctx, req, "parse")
		return nil
	}

	ratio = clamp(ratio, o.cfg.RatioMinBps, o.cfg.RatioMaxBps)
	confidence = clamp(confidence, 0, 100)

	if _, err := o.ledger.FinalizeMint(ctx, req.PositionID, ratio, confidence); err != nil {
		return err
	}
	if err := o.consume(ctx, req); err != nil {
		return err
	}

	o.breaker.RecordSuccess()
	if !o.breaker.Paused() {
		metrics.BreakerPaused.Set(0)
	}
	metrics.MintsTotal.WithLabelValues("primary").Inc()
	return nil
}

// absorbFailure counts one failed primary fulfillment. Past the retry
// budget the count is left alone so a flood of duplicate failures cannot
// mask when the ladder opened.
func (o *Orchestrator) absorbFailure(ctx context.Context, req *model.Request, cause string) {
	if req.RetryCount < o.cfg.MaxRetries {
		req.RetryCount++
		if err := o.store.UpdateRequest(ctx, req); err != nil {
			slog.Error("persist retry count failed", "request", req.ID, "err", err)
		}
	}

	paused := o.breaker.RecordFailure()
	if paused {
		metrics.BreakerPaused.Set(1)
	}
	metrics.FulfillmentFailures.WithLabelValues(cause).Inc()
	slog.Warn("primary fulfillment absorbed",
		"request", req.ID,
		"position", req.PositionID,
		"cause", cause,
		"retries", req.RetryCount,
		"paused", paused,
	)
}

// consume flips the processed flag. Exactly-once: every entry point checks
// the flag under o.mu before acting.
func (o *Orchestrator) consume(ctx context.Context, req *model.Request) error {
	req.Processed = true
	if err := o.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("persist processed flag: %w", err)
	}
	return nil
}

// guard loads the position's request and enforces the shared strategy
// preconditions: position still pending, request unprocessed and correctly
// cross-linked, caller authorized or the eligibility time reached.
func (o *Orchestrator) guard(ctx context.Context, caller, positionID string, eligibleAt func(*model.Request) time.Time) (*model.Request, error) {
	req, err := o.requestForPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if req.Processed {
		return nil, fmt.Errorf("%w: request %s", model.ErrAlreadyProcessed, req.ID)
	}
	if !o.cfg.IsProcessor(caller) && o.now().Before(eligibleAt(req)) {
		return nil, fmt.Errorf("%w: eligible at %s", model.ErrNotEligibleYet,
			eligibleAt(req).Format(time.RFC3339))
	}
	return req, nil
}

func (o *Orchestrator) requestForPosition(ctx context.Context, positionID string) (*model.Request, error) {
	pos, err := o.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.State != model.StatePendingRequest {
		return nil, fmt.Errorf("%w: position %s is %s", model.ErrAlreadyProcessed, positionID, pos.State)
	}
	req, err := o.store.GetRequest(ctx, pos.RequestID)
	if err != nil {
		return nil, err
	}
	if req.PositionID != positionID {
		return nil, fmt.Errorf("%w: request %s belongs to %s", model.ErrFingerprintMismatch, req.ID, req.PositionID)
	}
	return req, nil
}

// ProcessWithOffchainAI is recovery Strategy 1: an externally supplied
// response string processed through the same tolerant parse and clamp as
// the primary path. Processors may call it any time; anyone may once the
// manual eligibility elapses. Unlike the primary path, a parse failure is
// returned to the caller so they can fall back to ForceDefaultMint.
func (o *Orchestrator) ProcessWithOffchainAI(ctx context.Context, caller, positionID, response string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, err := o.guard(ctx, caller, positionID, func(r *model.Request) time.Time { return r.ManualEligibleAt })
	if err != nil {
		return err
	}

	ratio, confidence, err := parseResponse(response)
	if err != nil {
		return err
	}
	ratio = clamp(ratio, o.cfg.RatioMinBps, o.cfg.RatioMaxBps)
	confidence = clamp(confidence, 0, 100)

	if _, err := o.ledger.FinalizeMint(ctx, positionID, ratio, confidence); err != nil {
		return err
	}
	if err := o.consume(ctx, req); err != nil {
		return err
	}

	metrics.MintsTotal.WithLabelValues("manual").Inc()
	slog.Info("manual AI strategy applied", "position", positionID, "caller", caller, "ratio_bps", ratio)
	return nil
}

// ForceDefaultMint is recovery Strategy 2: ignore any external response and
// finalize at the fixed conservative ratio and confidence. Same eligibility
// rule as Strategy 1.
func (o *Orchestrator) ForceDefaultMint(ctx context.Context, caller, positionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, err := o.guard(ctx, caller, positionID, func(r *model.Request) time.Time { return r.ManualEligibleAt })
	if err != nil {
		return err
	}

	if _, err := o.ledger.FinalizeMint(ctx, positionID, o.cfg.DefaultRatioBps, o.cfg.DefaultConfidence); err != nil {
		return err
	}
	if err := o.consume(ctx, req); err != nil {
		return err
	}

	metrics.MintsTotal.WithLabelValues("default").Inc()
	slog.Info("default mint strategy applied", "position", positionID, "caller", caller,
		"ratio_bps", o.cfg.DefaultRatioBps)
	return nil
}

// EmergencyWithdraw is recovery Strategy 3: refund the entire original
// basket, bypassing ratio math. Processors any time; anyone once the
// emergency eligibility elapses. The ledger consumes the request as part
// of the refund.
func (o *Orchestrator) EmergencyWithdraw(ctx context.Context, caller, positionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.guard(ctx, caller, positionID, func(r *model.Request) time.Time { return r.EmergencyEligibleAt }); err != nil {
		return err
	}
	return o.ledger.EmergencyRefund(ctx, positionID, "strategy")
}

// ResetBreaker clears the circuit breaker. Owner only.
func (o *Orchestrator) ResetBreaker(caller string) error {
	if caller != o.cfg.Owner {
		return fmt.Errorf("%w: breaker reset is owner-only", model.ErrNotAuthorized)
	}
	o.breaker.Reset()
	metrics.BreakerPaused.Set(0)
	slog.Info("circuit breaker reset", "caller", caller)
	return nil
}

// Health returns the breaker snapshot.
func (o *Orchestrator) Health() health.Status {
	return o.breaker.Snapshot()
}
