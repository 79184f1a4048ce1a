package signal

import (
	"context"
	"fmt"
	"math"

	"github.com/quantfall/futures-engine/internal/marketdata"
)

// extraction thresholds; payload values below these do not activate the kind
const (
	rangeEdgePct      = 0.25 // close within bottom/top quarter of the range
	momentumMinPct    = 1.0
	trendMinNet       = 3
	highVolMinPct     = 3.0
	volumePowerMinDom = 1.5 // dominant side volume vs other side
	consecutiveMinRun = 3
	extractLookback   = 20
)

// Extractor derives the per-symbol activation set from recent candles. Each
// kind activates for at most one direction per evaluation; the scorer decides
// what the combination is worth.
type Extractor struct {
	view marketdata.View
}

func NewExtractor(view marketdata.View) *Extractor {
	return &Extractor{view: view}
}

// Activations computes the current activation set for a symbol. Market data
// failures propagate so the caller can skip the symbol this cycle instead of
// scoring on stale inputs.
func (e *Extractor) Activations(ctx context.Context, symbol string) ([]Activation, error) {
	short, err := e.view.RecentCandles(ctx, symbol, marketdata.TF15m, extractLookback)
	if err != nil {
		return nil, fmt.Errorf("short candles for %s: %w", symbol, err)
	}
	hourly, err := e.view.RecentCandles(ctx, symbol, marketdata.TF1h, extractLookback)
	if err != nil {
		return nil, fmt.Errorf("hourly candles for %s: %w", symbol, err)
	}
	daily, err := e.view.RecentCandles(ctx, symbol, marketdata.TF1d, extractLookback)
	if err != nil {
		return nil, fmt.Errorf("daily candles for %s: %w", symbol, err)
	}
	if len(short) < 2 {
		return nil, fmt.Errorf("not enough candles for %s", symbol)
	}

	acts := []Activation{}
	add := func(k Kind, d Direction, v float64) {
		acts = append(acts, Activation{Kind: k, Direction: d, Value: v})
	}

	last := short[len(short)-1]

	if d, v, ok := rangePosition(short); ok {
		add(KindPriceRange, d, v)
	}
	if d, v, ok := momentum(short); ok {
		add(KindMomentum, d, v)
	}
	if d, v, ok := trendBias(hourly); ok {
		add(KindTrend1h, d, v)
	}
	if d, v, ok := trendBias(daily); ok {
		add(KindTrend1d, d, v)
	}
	if v, ok := rangeWidthPct(short); ok && v >= highVolMinPct {
		// volatility itself has no side; it rides the candle's direction
		if last.IsBullish() {
			add(KindHighVolatility, Long, v)
		} else if last.IsBearish() {
			add(KindHighVolatility, Short, v)
		}
	}
	if d, v, ok := volumePower(short); ok {
		add(KindVolumePower, d, v)
	}
	if d, v, ok := consecutiveRun(short); ok {
		add(KindConsecutiveTrend, d, v)
	}
	if hi, lo, ok := priorExtremes(short); ok {
		if last.Close > hi {
			add(KindBreakout, Long, pctAbove(last.Close, hi))
		}
		if last.Close < lo {
			add(KindBreakdown, Short, pctAbove(lo, last.Close))
		}
	}
	return acts, nil
}

// rangePosition activates LONG near the low of the window and SHORT near the
// high; the payload is the distance from the nearer edge as a share of range.
func rangePosition(candles []marketdata.Candle) (Direction, float64, bool) {
	hi, lo := extremes(candles)
	if hi <= lo {
		return "", 0, false
	}
	pos := (candles[len(candles)-1].Close - lo) / (hi - lo)
	switch {
	case pos <= rangeEdgePct:
		return Long, pos, true
	case pos >= 1-rangeEdgePct:
		return Short, 1 - pos, true
	}
	return "", 0, false
}

func momentum(candles []marketdata.Candle) (Direction, float64, bool) {
	n := len(candles)
	base := candles[max(0, n-5)].Close
	if base <= 0 {
		return "", 0, false
	}
	pct := (candles[n-1].Close - base) / base * 100
	if math.Abs(pct) < momentumMinPct {
		return "", 0, false
	}
	if pct > 0 {
		return Long, pct, true
	}
	return Short, -pct, true
}

func trendBias(candles []marketdata.Candle) (Direction, float64, bool) {
	net := marketdata.NetPower(candles)
	if net >= trendMinNet {
		return Long, float64(net), true
	}
	if net <= -trendMinNet {
		return Short, float64(-net), true
	}
	return "", 0, false
}

// volumePower compares volume behind bullish candles against bearish ones.
func volumePower(candles []marketdata.Candle) (Direction, float64, bool) {
	var bull, bear float64
	for _, c := range candles {
		switch {
		case c.IsBullish():
			bull += c.Volume
		case c.IsBearish():
			bear += c.Volume
		}
	}
	if bull > bear*volumePowerMinDom && bear > 0 {
		return Long, bull / bear, true
	}
	if bear > bull*volumePowerMinDom && bull > 0 {
		return Short, bear / bull, true
	}
	return "", 0, false
}

func consecutiveRun(candles []marketdata.Candle) (Direction, float64, bool) {
	n := len(candles)
	if n == 0 {
		return "", 0, false
	}
	last := candles[n-1]
	bullish := last.IsBullish()
	if !bullish && !last.IsBearish() {
		return "", 0, false
	}
	run := 0
	for i := n - 1; i >= 0; i-- {
		if bullish && candles[i].IsBullish() || !bullish && candles[i].IsBearish() {
			run++
			continue
		}
		break
	}
	if run < consecutiveMinRun {
		return "", 0, false
	}
	if bullish {
		return Long, float64(run), true
	}
	return Short, float64(run), true
}

// priorExtremes returns the high/low of the window excluding the last candle.
func priorExtremes(candles []marketdata.Candle) (hi, lo float64, ok bool) {
	if len(candles) < 2 {
		return 0, 0, false
	}
	hi, lo = extremes(candles[:len(candles)-1])
	return hi, lo, hi > 0
}

func extremes(candles []marketdata.Candle) (hi, lo float64) {
	lo = math.MaxFloat64
	for _, c := range candles {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return hi, lo
}

// rangeWidthPct measures the last candle's high-low span against its close.
func rangeWidthPct(candles []marketdata.Candle) (float64, bool) {
	c := candles[len(candles)-1]
	if c.Close <= 0 {
		return 0, false
	}
	return (c.High - c.Low) / c.Close * 100, true
}

func pctAbove(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return (a - b) / b * 100
}
