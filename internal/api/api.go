// Package api provides the HTTP surface of the collateral engine: deposits,
// withdrawals, the oracle fulfillment callback, the recovery strategy
// endpoints, and the automation trigger pair.
//
// Caller identity rides in the request body; real deployments put an
// authenticating proxy in front of this service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/ledger"
	"github.com/synthvault/collateral-engine/internal/limits"
	"github.com/synthvault/collateral-engine/internal/model"
	"github.com/synthvault/collateral-engine/internal/orchestrator"
	"github.com/synthvault/collateral-engine/internal/sweep"
)

// Service wires the ledger, orchestrator, and sweeper to HTTP handlers.
type Service struct {
	ledger *ledger.Ledger
	orch   *orchestrator.Orchestrator
	sweep  *sweep.Sweeper
	hub    *EventHub // optional, nil disables broadcasting
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(l *ledger.Ledger, o *orchestrator.Orchestrator, s *sweep.Sweeper, hub *EventHub) *Service {
	return &Service{ledger: l, orch: o, sweep: s, hub: hub}
}

// Routes mounts all endpoints onto a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/deposits", s.Deposit)
	r.Post("/withdrawals", s.Withdraw)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Get("/users/{userID}/positions", s.ListPositions)

	r.Post("/oracle/fulfill", s.Fulfill)

	r.Post("/positions/{positionID}/strategies/offchain-ai", s.StrategyOffchainAI)
	r.Post("/positions/{positionID}/strategies/default-mint", s.StrategyDefaultMint)
	r.Post("/positions/{positionID}/strategies/emergency", s.StrategyEmergency)
	r.Post("/positions/{positionID}/bypass", s.OwnerBypass)

	r.Post("/automation/optin", s.OptIn)
	r.Post("/automation/optout", s.OptOut)
	r.Post("/automation/scan", s.Scan)
	r.Post("/automation/execute", s.Execute)

	r.Get("/health/system", s.SystemHealth)
	r.Post("/admin/resume", s.Resume)
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /deposits.
type DepositRequest struct {
	Owner  string             `json:"owner"`
	Basket []model.BasketItem `json:"basket"`
}

// WithdrawRequest is the JSON body for POST /withdrawals.
type WithdrawRequest struct {
	Owner      string          `json:"owner"`
	PositionID string          `json:"position_id"`
	BurnAmount decimal.Decimal `json:"burn_amount"`
}

// FulfillRequest is the callback body posted by the compute collaborator.
type FulfillRequest struct {
	RequestID   string `json:"request_id"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Response    string `json:"response,omitempty"`
	Failed      bool   `json:"failed,omitempty"`
}

// StrategyRequest carries the caller identity for recovery endpoints.
type StrategyRequest struct {
	Caller   string `json:"caller"`
	Response string `json:"response,omitempty"` // Strategy 1 only
}

// UserRequest is the body for automation opt-in/out.
type UserRequest struct {
	User string `json:"user"`
}

// ExecuteRequest is the body for POST /automation/execute.
type ExecuteRequest struct {
	PositionIDs []string `json:"position_ids"`
}

// --- Handlers ---

// Deposit handles POST /api/v1/deposits.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	pos, err := s.ledger.Deposit(r.Context(), req.Owner, req.Basket)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.emit(Event{Type: "deposited", PositionID: pos.ID, Owner: pos.Owner, RequestID: pos.RequestID})
	writeJSON(w, http.StatusCreated, pos)
}

// Withdraw handles POST /api/v1/withdrawals.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wd, err := s.ledger.Withdraw(r.Context(), req.Owner, req.PositionID, req.BurnAmount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.emit(Event{Type: "withdrawn", PositionID: wd.PositionID, Owner: req.Owner, Minted: wd.Burned.String()})
	writeJSON(w, http.StatusOK, wd)
}

// GetPosition handles GET /api/v1/positions/{positionID}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.ledger.Position(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListPositions handles GET /api/v1/users/{userID}/positions.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.ledger.PositionsByOwner(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// Fulfill handles POST /api/v1/oracle/fulfill — the asynchronous answer
// from the compute collaborator. Absorbed failures still return 202 so the
// collaborator never retries in a tight loop against a paused system.
func (s *Service) Fulfill(w http.ResponseWriter, r *http.Request) {
	var req FulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.orch.Fulfill(r.Context(), req.RequestID, req.Fingerprint, req.Response, req.Failed)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.emit(Event{Type: "fulfilled", RequestID: req.RequestID})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// StrategyOffchainAI handles Strategy 1.
func (s *Service) StrategyOffchainAI(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.orch.ProcessWithOffchainAI(r.Context(), req.Caller, positionID, req.Response); err != nil {
		writeDomainError(w, err)
		return
	}

	s.emit(Event{Type: "minted", PositionID: positionID, Trigger: "offchain-ai"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

// StrategyDefaultMint handles Strategy 2.
func (s *Service) StrategyDefaultMint(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.orch.ForceDefaultMint(r.Context(), req.Caller, positionID); err != nil {
		writeDomainError(w, err)
		return
	}

	s.emit(Event{Type: "minted", PositionID: positionID, Trigger: "default-mint"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

// StrategyEmergency handles Strategy 3.
func (s *Service) StrategyEmergency(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.orch.EmergencyWithdraw(r.Context(), req.Caller, positionID); err != nil {
		writeDomainError(w, err)
		return
	}

	s.emit(Event{Type: "refunded", PositionID: positionID, Trigger: "strategy"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

// OwnerBypass handles the final ladder rung: the owner claims the refund
// directly on the ledger, without the orchestrator.
func (s *Service) OwnerBypass(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.ledger.OwnerBypassRefund(r.Context(), req.Caller, positionID); err != nil {
		writeDomainError(w, err)
		return
	}

	s.emit(Event{Type: "refunded", PositionID: positionID, Trigger: "bypass"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

// OptIn handles POST /api/v1/automation/optin.
func (s *Service) OptIn(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}
	if err := s.sweep.OptIn(r.Context(), req.User); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "opted_in"})
}

// OptOut handles POST /api/v1/automation/optout.
func (s *Service) OptOut(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}
	if err := s.sweep.OptOut(r.Context(), req.User); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "opted_out"})
}

// Scan handles POST /api/v1/automation/scan — the periodic trigger's first
// call.
func (s *Service) Scan(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sweep.Scan(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"position_ids": ids})
}

// Execute handles POST /api/v1/automation/execute — the trigger's second
// call.
func (s *Service) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	refunded, err := s.sweep.Execute(r.Context(), req.PositionIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if refunded > 0 {
		s.emit(Event{Type: "refunded", Trigger: "sweep"})
	}
	writeJSON(w, http.StatusOK, map[string]int{"refunded": refunded})
}

// SystemHealth handles GET /api/v1/health/system.
func (s *Service) SystemHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Health())
}

// Resume handles POST /api/v1/admin/resume — owner-only breaker reset.
func (s *Service) Resume(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.orch.ResetBreaker(req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}
	s.emit(Event{Type: "resumed"})
	writeJSON(w, http.StatusOK, s.orch.Health())
}

func (s *Service) emit(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

// --- Error mapping ---

// writeDomainError maps domain sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrPositionNotFound), errors.Is(err, model.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrUnsupportedAsset), errors.Is(err, model.ErrZeroAmount),
		errors.Is(err, model.ErrParseFailure):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrNotEligibleYet):
		status = http.StatusTooEarly
	case errors.Is(err, model.ErrAlreadyProcessed), errors.Is(err, model.ErrFingerprintMismatch),
		errors.Is(err, model.ErrPositionNotWithdrawable), errors.Is(err, model.ErrInsufficientMinted),
		errors.Is(err, limits.ErrDepositValueExceeded), errors.Is(err, limits.ErrPendingValueExceeded):
		status = http.StatusConflict
	case errors.Is(err, model.ErrSystemPaused), errors.Is(err, model.ErrValuationUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrExternalCallFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		slog.Error("internal error", "err", err)
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
