package position

import (
	"github.com/shopspring/decimal"

	"github.com/quantfall/futures-engine/internal/signal"
)

// settle computes realized P&L and fees from the actual close fill price.
// The configured stop/target levels are only trigger conditions and never
// enter the settlement. Money math runs on decimals to keep fee and P&L
// figures exact at journal precision.
func settle(dir signal.Direction, entryPrice, closePrice, qty, feeRate float64) (pnlUSD, feesUSD float64) {
	entry := decimal.NewFromFloat(entryPrice)
	close := decimal.NewFromFloat(closePrice)
	quantity := decimal.NewFromFloat(qty)
	rate := decimal.NewFromFloat(feeRate)

	entryValue := entry.Mul(quantity)
	closeValue := close.Mul(quantity)

	// taker fee on both sides
	fees := entryValue.Add(closeValue).Mul(rate)

	sign := decimal.NewFromInt(1)
	if dir == signal.Short {
		sign = decimal.NewFromInt(-1)
	}
	pnl := closeValue.Sub(entryValue).Mul(sign).Sub(fees)

	return pnl.Round(8).InexactFloat64(), fees.Round(8).InexactFloat64()
}
