package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/ledger"
	"github.com/synthvault/collateral-engine/internal/limits"
	"github.com/synthvault/collateral-engine/internal/model"
	"github.com/synthvault/collateral-engine/internal/store"
	"github.com/synthvault/collateral-engine/internal/token"
	"github.com/synthvault/collateral-engine/internal/valuation"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// testClock is a settable clock shared by the components under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(dur)
}

// fakeSubmitter records requests directly in the store, standing in for
// the orchestrator.
type fakeSubmitter struct {
	st       store.Store
	clock    *testClock
	readyErr error
}

func (f *fakeSubmitter) Ready() error { return f.readyErr }

func (f *fakeSubmitter) Submit(ctx context.Context, p *model.Position, _ map[string]decimal.Decimal) (string, error) {
	now := f.clock.Now()
	req := &model.Request{
		ID:                    uuid.New().String(),
		PositionID:            p.ID,
		Fingerprint:           "test-fingerprint",
		CreatedAt:             now,
		ManualEligibleAt:      now.Add(30 * time.Minute),
		EmergencyEligibleAt:   now.Add(2 * time.Hour),
		VaultBypassEligibleAt: now.Add(4 * time.Hour),
	}
	if err := f.st.CreateRequest(ctx, req); err != nil {
		return "", err
	}
	return req.ID, nil
}

// newTestLedger wires a ledger against the in-memory store, bank, and a
// static price source: A=$4000, B=$100000, C=$0.3125.
func newTestLedger(t *testing.T) (*ledger.Ledger, *store.MemoryStore, *token.MemoryBank, *fakeSubmitter, *testClock) {
	t.Helper()

	clock := newTestClock()
	st := store.NewMemoryStore()
	bank := token.NewMemoryBank()

	source := &valuation.StaticSource{Quotes: map[string]valuation.StaticQuote{
		"A": {Price: d("4000"), UpdatedAt: clock.Now()},
		"B": {Price: d("100000"), UpdatedAt: clock.Now()},
		"C": {Price: d("0.3125"), UpdatedAt: clock.Now()},
	}}
	gateway := valuation.NewGateway(source, time.Hour, nil, nil, clock.Now)

	sub := &fakeSubmitter{st: st, clock: clock}
	l := ledger.New(st, bank, bank, gateway, nil, []string{"A", "B", "C"}, clock.Now)
	l.Bind(sub)
	return l, st, bank, sub, clock
}

func fund(bank *token.MemoryBank, owner string) {
	bank.Credit("A", owner, d("10"))
	bank.Credit("B", owner, d("1"))
	bank.Credit("C", owner, d("10000"))
}

func deposit(t *testing.T, l *ledger.Ledger, owner string, basket []model.BasketItem) *model.Position {
	t.Helper()
	pos, err := l.Deposit(context.Background(), owner, basket)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	return pos
}

// --- Deposit ---

func TestDeposit_CreatesPendingPosition(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")

	pos := deposit(t, l, "alice", []model.BasketItem{
		{Asset: "A", Amount: d("0.25")},
	})

	if pos.State != model.StatePendingRequest {
		t.Errorf("expected pending state, got %s", pos.State)
	}
	if !pos.TotalValueUSD.Equal(d("1000")) {
		t.Errorf("expected value 1000, got %s", pos.TotalValueUSD)
	}
	if pos.RequestID == "" {
		t.Error("expected a request id")
	}
	if !pos.MintedAmount.IsZero() {
		t.Errorf("minted amount must start at zero, got %s", pos.MintedAmount)
	}
	// Assets moved into the vault.
	if !bank.Balance("A", token.VaultHolder).Equal(d("0.25")) {
		t.Errorf("vault should hold 0.25 A, has %s", bank.Balance("A", token.VaultHolder))
	}
}

func TestDeposit_RejectsUnsupportedAsset(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")

	_, err := l.Deposit(context.Background(), "alice", []model.BasketItem{
		{Asset: "DOGE", Amount: d("5")},
	})
	if !errors.Is(err, model.ErrUnsupportedAsset) {
		t.Errorf("expected ErrUnsupportedAsset, got %v", err)
	}
	// Nothing moved.
	if !bank.Balance("A", token.VaultHolder).IsZero() {
		t.Error("no assets should have been transferred")
	}
}

func TestDeposit_RejectsZeroAmountAndEmptyBasket(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")

	_, err := l.Deposit(context.Background(), "alice", []model.BasketItem{
		{Asset: "A", Amount: d("0")},
	})
	if !errors.Is(err, model.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}

	_, err = l.Deposit(context.Background(), "alice", nil)
	if !errors.Is(err, model.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount for empty basket, got %v", err)
	}
}

func TestDeposit_RejectedWhilePaused(t *testing.T) {
	l, _, bank, sub, _ := newTestLedger(t)
	fund(bank, "alice")
	sub.readyErr = model.ErrSystemPaused

	_, err := l.Deposit(context.Background(), "alice", []model.BasketItem{
		{Asset: "A", Amount: d("1")},
	})
	if !errors.Is(err, model.ErrSystemPaused) {
		t.Errorf("expected ErrSystemPaused, got %v", err)
	}
	if !bank.Balance("A", "alice").Equal(d("10")) {
		t.Error("paused deposit must not move assets")
	}
}

func TestDeposit_InsufficientFundsUnwinds(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	bank.Credit("A", "bob", d("1"))
	// bob has A but no C; the second transfer fails and the first unwinds.
	_, err := l.Deposit(context.Background(), "bob", []model.BasketItem{
		{Asset: "A", Amount: d("1")},
		{Asset: "C", Amount: d("100")},
	})
	if !errors.Is(err, model.ErrExternalCallFailed) {
		t.Errorf("expected ErrExternalCallFailed, got %v", err)
	}
	if !bank.Balance("A", "bob").Equal(d("1")) {
		t.Errorf("A should be returned to bob, has %s", bank.Balance("A", "bob"))
	}
	if !bank.Balance("A", token.VaultHolder).IsZero() {
		t.Error("vault must not retain assets from a failed deposit")
	}
}

func TestDeposit_ExposureCaps(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	bank := token.NewMemoryBank()
	source := &valuation.StaticSource{Quotes: map[string]valuation.StaticQuote{
		"A": {Price: d("4000"), UpdatedAt: clock.Now()},
	}}
	gateway := valuation.NewGateway(source, time.Hour, nil, nil, clock.Now)
	limiter := limits.NewDepositLimiter(d("5000"), d("6000"))

	l := ledger.New(st, bank, bank, gateway, limiter, []string{"A"}, clock.Now)
	l.Bind(&fakeSubmitter{st: st, clock: clock})
	bank.Credit("A", "alice", d("100"))

	// $8000 deposit exceeds the per-deposit cap.
	_, err := l.Deposit(context.Background(), "alice", []model.BasketItem{{Asset: "A", Amount: d("2")}})
	if !errors.Is(err, limits.ErrDepositValueExceeded) {
		t.Errorf("expected ErrDepositValueExceeded, got %v", err)
	}

	// $4000 passes, second $4000 trips the aggregate pending cap.
	deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("1")}})
	_, err = l.Deposit(context.Background(), "alice", []model.BasketItem{{Asset: "A", Amount: d("1")}})
	if !errors.Is(err, limits.ErrPendingValueExceeded) {
		t.Errorf("expected ErrPendingValueExceeded, got %v", err)
	}
}

// --- Mint finalization ---

func TestFinalizeMint_RatioArithmetic(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")

	// 0.25 A at $4000 = $1000 of collateral.
	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("0.25")}})

	minted, err := l.FinalizeMint(context.Background(), pos.ID, 15000, 90)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	// 1000 * 10000 / 15000 = 666.66666667
	want := d("666.66666667")
	if !minted.MintedAmount.Equal(want) {
		t.Errorf("expected minted %s, got %s", want, minted.MintedAmount)
	}
	if minted.State != model.StateMinted {
		t.Errorf("expected minted state, got %s", minted.State)
	}
	if !ledger.MintedFor(minted.TotalValueUSD, minted.AppliedRatioBps).Equal(minted.MintedAmount) {
		t.Error("minted amount must equal totalValueUSD*10000/appliedRatio")
	}

	bal, _ := bank.BalanceOf(context.Background(), "alice")
	if !bal.Equal(want) {
		t.Errorf("owner synthetic balance should be %s, got %s", want, bal)
	}
}

func TestFinalizeMint_SecondCallRejected(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")
	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("0.25")}})

	if _, err := l.FinalizeMint(context.Background(), pos.ID, 15000, 90); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	_, err := l.FinalizeMint(context.Background(), pos.ID, 15000, 90)
	if !errors.Is(err, model.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
}

// --- Withdrawal ---

func TestWithdraw_FullBurnReturnsOriginalBasket(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")

	// $2,350 basket: 0.5 A + 0.001 B + 800 C.
	basket := []model.BasketItem{
		{Asset: "A", Amount: d("0.5")},
		{Asset: "B", Amount: d("0.001")},
		{Asset: "C", Amount: d("800")},
	}
	pos := deposit(t, l, "alice", basket)
	if !pos.TotalValueUSD.Equal(d("2350")) {
		t.Fatalf("expected $2350 basket, got %s", pos.TotalValueUSD)
	}

	// AI says 145% -> minted = 2350*10000/14500.
	minted, err := l.FinalizeMint(context.Background(), pos.ID, 14500, 85)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if !minted.MintedAmount.Equal(d("1620.68965517")) {
		t.Errorf("expected minted 1620.68965517, got %s", minted.MintedAmount)
	}

	before := map[string]decimal.Decimal{
		"A": bank.Balance("A", "alice"),
		"B": bank.Balance("B", "alice"),
		"C": bank.Balance("C", "alice"),
	}

	wd, err := l.Withdraw(context.Background(), "alice", pos.ID, minted.MintedAmount)
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !wd.Closed {
		t.Error("full burn should close the position")
	}

	// The exact original basket comes back.
	for i, item := range basket {
		if !wd.Returned[i].Amount.Equal(item.Amount) {
			t.Errorf("asset %s: expected %s back, got %s", item.Asset, item.Amount, wd.Returned[i].Amount)
		}
		got := bank.Balance(item.Asset, "alice").Sub(before[item.Asset])
		if !got.Equal(item.Amount) {
			t.Errorf("asset %s: balance delta %s, want %s", item.Asset, got, item.Amount)
		}
	}

	final, _ := l.Position(context.Background(), pos.ID)
	if final.State != model.StateClosed {
		t.Errorf("expected closed, got %s", final.State)
	}
}

func TestWithdraw_ProportionalPartialBurn(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")

	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "C", Amount: d("800")}})
	minted, err := l.FinalizeMint(context.Background(), pos.ID, 12500, 70)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	// Burn half: half the basket comes back, mintedAmount halves.
	half := minted.MintedAmount.Div(d("2"))
	wd, err := l.Withdraw(context.Background(), "alice", pos.ID, half)
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !wd.Returned[0].Amount.Equal(d("400")) {
		t.Errorf("expected 400 C back, got %s", wd.Returned[0].Amount)
	}
	if wd.Closed {
		t.Error("partial burn must not close the position")
	}

	after, _ := l.Position(context.Background(), pos.ID)
	if !after.MintedAmount.Equal(minted.MintedAmount.Sub(half)) {
		t.Errorf("minted amount should drop to %s, got %s", minted.MintedAmount.Sub(half), after.MintedAmount)
	}
	if !after.Basket[0].Amount.Equal(d("400")) {
		t.Errorf("basket should drop to 400 C, got %s", after.Basket[0].Amount)
	}
}

func TestWithdraw_PendingPositionRejected(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")
	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("1")}})

	_, err := l.Withdraw(context.Background(), "alice", pos.ID, d("1"))
	if !errors.Is(err, model.ErrPositionNotWithdrawable) {
		t.Errorf("expected ErrPositionNotWithdrawable, got %v", err)
	}
}

func TestWithdraw_OverBurnRejected(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")
	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("0.25")}})
	minted, _ := l.FinalizeMint(context.Background(), pos.ID, 15000, 90)

	_, err := l.Withdraw(context.Background(), "alice", pos.ID, minted.MintedAmount.Add(d("1")))
	if !errors.Is(err, model.ErrInsufficientMinted) {
		t.Errorf("expected ErrInsufficientMinted, got %v", err)
	}
}

func TestWithdraw_WrongOwnerRejected(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")
	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("0.25")}})
	l.FinalizeMint(context.Background(), pos.ID, 15000, 90)

	_, err := l.Withdraw(context.Background(), "mallory", pos.ID, d("1"))
	if !errors.Is(err, model.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

// --- Emergency refund and owner bypass ---

func TestEmergencyRefund_ReturnsFullBasket(t *testing.T) {
	l, st, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")
	basket := []model.BasketItem{
		{Asset: "A", Amount: d("0.5")},
		{Asset: "C", Amount: d("100")},
	}
	pos := deposit(t, l, "alice", basket)
	before := bank.Balance("A", "alice")

	if err := l.EmergencyRefund(context.Background(), pos.ID, "strategy"); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	if !bank.Balance("A", "alice").Sub(before).Equal(d("0.5")) {
		t.Error("refund should return the full A amount")
	}
	after, _ := l.Position(context.Background(), pos.ID)
	if after.State != model.StateClosed {
		t.Errorf("expected closed, got %s", after.State)
	}
	if !after.MintedAmount.IsZero() {
		t.Error("refund path must never mint")
	}
	// The request is consumed so a late fulfillment cannot mint.
	req, _ := st.GetRequest(context.Background(), pos.RequestID)
	if !req.Processed {
		t.Error("refund must consume the request")
	}
}

func TestEmergencyRefund_Idempotent(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")
	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("1")}})

	if err := l.EmergencyRefund(context.Background(), pos.ID, "strategy"); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	err := l.EmergencyRefund(context.Background(), pos.ID, "strategy")
	if !errors.Is(err, model.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestOwnerBypass_TimeGate(t *testing.T) {
	l, _, bank, _, clock := newTestLedger(t)
	fund(bank, "alice")
	pos := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("1")}})

	// Before T3: rejected.
	err := l.OwnerBypassRefund(context.Background(), "alice", pos.ID)
	if !errors.Is(err, model.ErrNotEligibleYet) {
		t.Errorf("expected ErrNotEligibleYet before T3, got %v", err)
	}

	// Not the owner: rejected even after T3.
	clock.Advance(4 * time.Hour)
	err = l.OwnerBypassRefund(context.Background(), "mallory", pos.ID)
	if !errors.Is(err, model.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}

	// Exactly at T3 the owner succeeds.
	if err := l.OwnerBypassRefund(context.Background(), "alice", pos.ID); err != nil {
		t.Fatalf("bypass at T3 should succeed: %v", err)
	}
	if !bank.Balance("A", "alice").Equal(d("10")) {
		t.Error("bypass should return the full deposit")
	}
}

// rejectingMover wraps the bank and rejects the next n TransferOut calls
// for one asset, simulating a transiently failing token contract.
type rejectingMover struct {
	*token.MemoryBank
	asset   string
	rejects int
}

func (m *rejectingMover) TransferOut(ctx context.Context, asset, to string, amount decimal.Decimal) error {
	if asset == m.asset && m.rejects > 0 {
		m.rejects--
		return errors.New("token contract rejected transfer")
	}
	return m.MemoryBank.TransferOut(ctx, asset, to, amount)
}

func TestEmergencyRefund_MidBasketFailureRecoups(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	bank := token.NewMemoryBank()
	mover := &rejectingMover{MemoryBank: bank, asset: "B"}
	source := &valuation.StaticSource{Quotes: map[string]valuation.StaticQuote{
		"A": {Price: d("4000"), UpdatedAt: clock.Now()},
		"B": {Price: d("100000"), UpdatedAt: clock.Now()},
	}}
	gateway := valuation.NewGateway(source, time.Hour, nil, nil, clock.Now)
	l := ledger.New(st, mover, bank, gateway, nil, []string{"A", "B"}, clock.Now)
	l.Bind(&fakeSubmitter{st: st, clock: clock})

	bank.Credit("A", "alice", d("1"))
	bank.Credit("B", "alice", d("1"))
	bank.Credit("A", "bob", d("1"))

	alicePos := deposit(t, l, "alice", []model.BasketItem{
		{Asset: "A", Amount: d("1")},
		{Asset: "B", Amount: d("1")},
	})
	deposit(t, l, "bob", []model.BasketItem{{Asset: "A", Amount: d("1")}})

	// First refund fails on B after A already went out; A must come back.
	mover.rejects = 1
	err := l.EmergencyRefund(context.Background(), alicePos.ID, "strategy")
	if !errors.Is(err, model.ErrExternalCallFailed) {
		t.Fatalf("expected ErrExternalCallFailed, got %v", err)
	}
	if !bank.Balance("A", "alice").IsZero() {
		t.Errorf("failed refund must recoup A, alice has %s", bank.Balance("A", "alice"))
	}
	if !bank.Balance("A", token.VaultHolder).Equal(d("2")) {
		t.Errorf("vault must still cover both positions, has %s A", bank.Balance("A", token.VaultHolder))
	}
	mid, _ := l.Position(context.Background(), alicePos.ID)
	if mid.State != model.StatePendingRequest {
		t.Errorf("failed refund must leave the position pending, is %s", mid.State)
	}

	// The retry pays the basket exactly once.
	if err := l.EmergencyRefund(context.Background(), alicePos.ID, "strategy"); err != nil {
		t.Fatalf("retry refund failed: %v", err)
	}
	if !bank.Balance("A", "alice").Equal(d("1")) || !bank.Balance("B", "alice").Equal(d("1")) {
		t.Errorf("retry must pay 1 A + 1 B exactly once, alice has %s A, %s B",
			bank.Balance("A", "alice"), bank.Balance("B", "alice"))
	}
	if !bank.Balance("A", token.VaultHolder).Equal(d("1")) {
		t.Errorf("vault must keep bob's 1 A, has %s", bank.Balance("A", token.VaultHolder))
	}
}

func TestWithdraw_MidBasketFailureRestoresBurn(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	bank := token.NewMemoryBank()
	mover := &rejectingMover{MemoryBank: bank, asset: "C"}
	source := &valuation.StaticSource{Quotes: map[string]valuation.StaticQuote{
		"A": {Price: d("4000"), UpdatedAt: clock.Now()},
		"C": {Price: d("0.3125"), UpdatedAt: clock.Now()},
	}}
	gateway := valuation.NewGateway(source, time.Hour, nil, nil, clock.Now)
	l := ledger.New(st, mover, bank, gateway, nil, []string{"A", "C"}, clock.Now)
	l.Bind(&fakeSubmitter{st: st, clock: clock})

	bank.Credit("A", "alice", d("1"))
	bank.Credit("C", "alice", d("800"))
	pos := deposit(t, l, "alice", []model.BasketItem{
		{Asset: "A", Amount: d("1")},
		{Asset: "C", Amount: d("800")},
	})
	minted, err := l.FinalizeMint(context.Background(), pos.ID, 15000, 90)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	// Full burn fails on C after A already went out. The burn is restored,
	// the paid A is recouped, and the position is untouched.
	mover.rejects = 1
	_, err = l.Withdraw(context.Background(), "alice", pos.ID, minted.MintedAmount)
	if !errors.Is(err, model.ErrExternalCallFailed) {
		t.Fatalf("expected ErrExternalCallFailed, got %v", err)
	}
	bal, _ := bank.BalanceOf(context.Background(), "alice")
	if !bal.Equal(minted.MintedAmount) {
		t.Errorf("burned synthetic must be restored, alice has %s of %s", bal, minted.MintedAmount)
	}
	if !bank.Balance("A", "alice").IsZero() {
		t.Errorf("failed withdrawal must recoup A, alice has %s", bank.Balance("A", "alice"))
	}
	mid, _ := l.Position(context.Background(), pos.ID)
	if mid.State != model.StateMinted || !mid.MintedAmount.Equal(minted.MintedAmount) {
		t.Errorf("failed withdrawal must not alter the position: state %s, minted %s",
			mid.State, mid.MintedAmount)
	}
	if !mid.Basket[0].Amount.Equal(d("1")) || !mid.Basket[1].Amount.Equal(d("800")) {
		t.Errorf("stored basket must be unchanged, got %+v", mid.Basket)
	}

	// The retry completes the full withdrawal once.
	wd, err := l.Withdraw(context.Background(), "alice", pos.ID, minted.MintedAmount)
	if err != nil {
		t.Fatalf("retry withdraw failed: %v", err)
	}
	if !wd.Closed {
		t.Error("full burn should close the position")
	}
	if !bank.Balance("A", "alice").Equal(d("1")) || !bank.Balance("C", "alice").Equal(d("800")) {
		t.Errorf("retry must pay the basket exactly once, alice has %s A, %s C",
			bank.Balance("A", "alice"), bank.Balance("C", "alice"))
	}
}

// --- Collateral conservation across mixed operations ---

func TestVaultNeverHoldsLessThanOpenPositions(t *testing.T) {
	l, _, bank, _, _ := newTestLedger(t)
	fund(bank, "alice")
	fund(bank, "bob")

	p1 := deposit(t, l, "alice", []model.BasketItem{{Asset: "A", Amount: d("1")}})
	p2 := deposit(t, l, "bob", []model.BasketItem{{Asset: "A", Amount: d("2")}})

	l.FinalizeMint(context.Background(), p1.ID, 15000, 80)
	m1, _ := l.Position(context.Background(), p1.ID)
	l.Withdraw(context.Background(), "alice", p1.ID, m1.MintedAmount.Div(d("2")))
	l.EmergencyRefund(context.Background(), p2.ID, "sweep")

	// Sum A held across non-closed positions must not exceed vault balance.
	total := decimal.Zero
	for _, id := range []string{p1.ID, p2.ID} {
		p, _ := l.Position(context.Background(), id)
		if p.State == model.StateClosed {
			continue
		}
		for _, item := range p.Basket {
			if item.Asset == "A" {
				total = total.Add(item.Amount)
			}
		}
	}
	if total.GreaterThan(bank.Balance("A", token.VaultHolder)) {
		t.Errorf("positions claim %s A but vault holds %s",
			total, bank.Balance("A", token.VaultHolder))
	}
}
