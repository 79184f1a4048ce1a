package position

import (
	"testing"

	"github.com/quantfall/futures-engine/internal/signal"
)

func TestSettleLong(t *testing.T) {
	pnl, fees := settle(signal.Long, 100, 97, 10, 0.0005)

	// fees: (1000 + 970) * 0.0005 = 0.985
	if fees != 0.985 {
		t.Errorf("fees = %v, want 0.985", fees)
	}
	// pnl: (970 - 1000) - 0.985
	if pnl != -30.985 {
		t.Errorf("pnl = %v, want -30.985", pnl)
	}
}

func TestSettleShort(t *testing.T) {
	pnl, fees := settle(signal.Short, 100, 97, 10, 0.0005)

	if fees != 0.985 {
		t.Errorf("fees = %v, want 0.985", fees)
	}
	// a falling price profits the short: (1000 - 970) - 0.985
	if pnl != 29.015 {
		t.Errorf("pnl = %v, want 29.015", pnl)
	}
}

func TestSettleFlatPriceLosesOnlyFees(t *testing.T) {
	pnl, fees := settle(signal.Long, 250, 250, 4, 0.0005)

	if fees != 1 {
		t.Errorf("fees = %v, want 1", fees)
	}
	if pnl != -1 {
		t.Errorf("pnl = %v, want -1 (fees only)", pnl)
	}
}

// Symmetric trades settle to exact opposites before fees; decimal math keeps
// the figures free of float drift.
func TestSettleSymmetry(t *testing.T) {
	longPnL, _ := settle(signal.Long, 123.45, 130.01, 7.3, 0)
	shortPnL, _ := settle(signal.Short, 123.45, 130.01, 7.3, 0)

	if longPnL != -shortPnL {
		t.Errorf("long %v and short %v are not symmetric", longPnL, shortPnL)
	}
}
