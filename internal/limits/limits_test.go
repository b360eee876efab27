package limits

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheck_WithinLimits(t *testing.T) {
	l := NewDepositLimiter(d(1000000), d(5000000))

	if err := l.Check(d(500), d(0)); err != nil {
		t.Errorf("expected deposit to pass, got %v", err)
	}
	if err := l.Check(d(1000000), d(4000000)); err != nil {
		t.Errorf("caps are inclusive, got %v", err)
	}
}

func TestCheck_DepositCapExceeded(t *testing.T) {
	l := NewDepositLimiter(d(1000000), d(5000000))

	if err := l.Check(d(1000001), d(0)); err != ErrDepositValueExceeded {
		t.Errorf("expected ErrDepositValueExceeded, got %v", err)
	}
}

func TestCheck_PendingCapExceeded(t *testing.T) {
	l := NewDepositLimiter(d(1000000), d(5000000))

	// The new deposit counts toward the aggregate.
	if err := l.Check(d(600000), d(4500000)); err != ErrPendingValueExceeded {
		t.Errorf("expected ErrPendingValueExceeded, got %v", err)
	}
}

func TestCheck_ZeroCapDisables(t *testing.T) {
	l := NewDepositLimiter(decimal.Zero, decimal.Zero)

	if err := l.Check(d(1e12), d(1e12)); err != nil {
		t.Errorf("zero caps should disable the checks, got %v", err)
	}

	l = NewDepositLimiter(d(100), decimal.Zero)
	if err := l.Check(d(50), d(1e12)); err != nil {
		t.Errorf("only the deposit cap is set, got %v", err)
	}
	if err := l.Check(d(101), d(0)); err != ErrDepositValueExceeded {
		t.Errorf("expected ErrDepositValueExceeded, got %v", err)
	}
}
