// Package token defines the fungible-token collaborator interfaces: moving
// collateral assets in and out of the engine's vault, and issuing/burning
// the synthetic unit. The real token implementations live outside this
// repository; MemoryBank is the in-memory stand-in for dev and tests.
package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Mover moves collateral assets between holders and the engine vault.
// A failed transfer aborts the whole enclosing operation.
type Mover interface {
	// TransferIn pulls amount of asset from a holder into the vault.
	TransferIn(ctx context.Context, asset, from string, amount decimal.Decimal) error

	// TransferOut pays amount of asset from the vault to a holder.
	TransferOut(ctx context.Context, asset, to string, amount decimal.Decimal) error
}

// Synthetic issues and burns the synthetic unit backed by collateral.
type Synthetic interface {
	Mint(ctx context.Context, to string, amount decimal.Decimal) error
	Burn(ctx context.Context, from string, amount decimal.Decimal) error
	BalanceOf(ctx context.Context, holder string) (decimal.Decimal, error)
}

// VaultHolder is the account name under which the engine holds collateral.
const VaultHolder = "vault"

// MemoryBank implements Mover and Synthetic with in-memory balances.
// Standard balance semantics: transfers and burns fail on insufficient
// funds, mints are unbounded.
type MemoryBank struct {
	mu        sync.Mutex
	balances  map[string]map[string]decimal.Decimal // asset -> holder -> balance
	synthetic map[string]decimal.Decimal            // holder -> synthetic balance
}

// NewMemoryBank creates an empty in-memory bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances:  make(map[string]map[string]decimal.Decimal),
		synthetic: make(map[string]decimal.Decimal),
	}
}

// Credit funds a holder's asset balance. Test/dev seeding only.
func (b *MemoryBank) Credit(asset, holder string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, holder, amount)
}

func (b *MemoryBank) credit(asset, holder string, amount decimal.Decimal) {
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[string]decimal.Decimal)
	}
	b.balances[asset][holder] = b.balances[asset][holder].Add(amount)
}

func (b *MemoryBank) debit(asset, holder string, amount decimal.Decimal) error {
	if b.balances[asset][holder].LessThan(amount) {
		return fmt.Errorf("insufficient %s balance for %s: have %s, need %s",
			asset, holder, b.balances[asset][holder], amount)
	}
	b.balances[asset][holder] = b.balances[asset][holder].Sub(amount)
	return nil
}

func (b *MemoryBank) TransferIn(_ context.Context, asset, from string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.debit(asset, from, amount); err != nil {
		return err
	}
	b.credit(asset, VaultHolder, amount)
	return nil
}

func (b *MemoryBank) TransferOut(_ context.Context, asset, to string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.debit(asset, VaultHolder, amount); err != nil {
		return err
	}
	b.credit(asset, to, amount)
	return nil
}

// Balance returns a holder's balance of an asset.
func (b *MemoryBank) Balance(asset, holder string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[asset][holder]
}

func (b *MemoryBank) Mint(_ context.Context, to string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.synthetic[to] = b.synthetic[to].Add(amount)
	return nil
}

func (b *MemoryBank) Burn(_ context.Context, from string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.synthetic[from].LessThan(amount) {
		return fmt.Errorf("insufficient synthetic balance for %s: have %s, need %s",
			from, b.synthetic[from], amount)
	}
	b.synthetic[from] = b.synthetic[from].Sub(amount)
	return nil
}

func (b *MemoryBank) BalanceOf(_ context.Context, holder string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.synthetic[holder], nil
}
