// Package valuation wraps the external price-quote source with the checks
// the engine requires before trusting a quote: a staleness bound, per-asset
// sanity bounds, and a documented fallback constant per asset used when the
// feed is absent, stale, or out of bounds.
package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/model"
)

// PriceSource is the external quote collaborator. Prices are USD with
// 8-decimal fixed-point precision; updatedAt is the feed's own timestamp.
type PriceSource interface {
	Price(ctx context.Context, asset string) (price decimal.Decimal, updatedAt time.Time, err error)
}

// Bounds is the sanity window for one asset's quote. A quote outside the
// window is treated the same as a missing quote.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Gateway applies staleness and bounds checks to a PriceSource and
// substitutes fallback constants when a quote cannot be trusted.
type Gateway struct {
	source    PriceSource
	staleness time.Duration
	bounds    map[string]Bounds
	fallbacks map[string]decimal.Decimal
	now       func() time.Time
}

// NewGateway creates a valuation gateway. source may be nil, in which case
// every quote resolves to its fallback constant. now defaults to time.Now.
func NewGateway(source PriceSource, staleness time.Duration,
	bounds map[string]Bounds, fallbacks map[string]decimal.Decimal,
	now func() time.Time) *Gateway {

	if now == nil {
		now = time.Now
	}
	return &Gateway{
		source:    source,
		staleness: staleness,
		bounds:    bounds,
		fallbacks: fallbacks,
		now:       now,
	}
}

// Quote returns the trusted USD price for one asset, falling back to the
// configured constant when the feed cannot be trusted. Returns
// ErrValuationUnavailable when there is neither a usable quote nor a
// fallback.
func (g *Gateway) Quote(ctx context.Context, asset string) (decimal.Decimal, error) {
	if g.source != nil {
		price, updatedAt, err := g.source.Price(ctx, asset)
		if err == nil && g.usable(asset, price, updatedAt) {
			return price, nil
		}
	}
	if fb, ok := g.fallbacks[asset]; ok {
		return fb, nil
	}
	return decimal.Zero, model.ErrValuationUnavailable
}

func (g *Gateway) usable(asset string, price decimal.Decimal, updatedAt time.Time) bool {
	if !price.IsPositive() {
		return false
	}
	if g.now().Sub(updatedAt) > g.staleness {
		return false
	}
	if b, ok := g.bounds[asset]; ok {
		if price.LessThan(b.Min) || price.GreaterThan(b.Max) {
			return false
		}
	}
	return true
}

// BasketValue prices an entire basket and returns its USD total plus the
// per-asset quote snapshot used.
func (g *Gateway) BasketValue(ctx context.Context, basket []model.BasketItem) (decimal.Decimal, map[string]decimal.Decimal, error) {
	total := decimal.Zero
	snapshot := make(map[string]decimal.Decimal, len(basket))

	for _, item := range basket {
		price, err := g.Quote(ctx, item.Asset)
		if err != nil {
			return decimal.Zero, nil, err
		}
		snapshot[item.Asset] = price
		total = total.Add(price.Mul(item.Amount))
	}
	return total, snapshot, nil
}

// StaticSource is a fixed in-memory PriceSource for dev and tests.
type StaticSource struct {
	Quotes map[string]StaticQuote
}

// StaticQuote is one fixed price with its feed timestamp.
type StaticQuote struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

func (s *StaticSource) Price(_ context.Context, asset string) (decimal.Decimal, time.Time, error) {
	q, ok := s.Quotes[asset]
	if !ok {
		return decimal.Zero, time.Time{}, model.ErrValuationUnavailable
	}
	return q.Price, q.UpdatedAt, nil
}
