package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/marketdata"
	"github.com/quantfall/futures-engine/internal/observ"
)

// Detector computes the market regime from a fixed reference basket and holds
// the latest State as an atomically replaced snapshot.
type Detector struct {
	view marketdata.View
	cfg  config.Regime

	mu      sync.RWMutex
	current State
}

func NewDetector(view marketdata.View, cfg config.Regime) *Detector {
	return &Detector{
		view: view,
		cfg:  cfg,
		current: State{
			Direction:  Neutral,
			ComputedAt: time.Now().UTC(),
		},
	}
}

// Current returns the latest computed state. Callers get a value copy; the
// detector never hands out a live mutable record.
func (d *Detector) Current() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// RunOnce recomputes the regime wholesale and replaces the current state.
// A reference symbol with missing data is excluded from the aggregate; if
// every reference is unavailable the result is NEUTRAL with strength 0.
func (d *Detector) RunOnce(ctx context.Context, now time.Time) State {
	state := d.compute(ctx, now)

	d.mu.Lock()
	prev := d.current
	d.current = state
	d.mu.Unlock()

	if prev.Direction != state.Direction {
		observ.Log("regime_changed", map[string]any{
			"from":     string(prev.Direction),
			"to":       string(state.Direction),
			"strength": state.Strength,
		})
	}
	observ.SetGauge("regime_strength", state.Strength, nil)
	observ.SetGauge("regime_block_long", boolGauge(state.BlockLong), nil)
	observ.SetGauge("regime_block_short", boolGauge(state.BlockShort), nil)
	return state
}

func (d *Detector) compute(ctx context.Context, now time.Time) State {
	state := State{Direction: Neutral, ComputedAt: now.UTC()}

	bullWeight, bearWeight := 0.0, 0.0
	available := 0

	for _, symbol := range d.cfg.Basket {
		detail := SymbolDetail{Symbol: symbol}

		short, errS := d.view.RecentCandles(ctx, symbol, marketdata.Timeframe(d.cfg.ShortTimeframe), d.cfg.Lookback)
		medium, errM := d.view.RecentCandles(ctx, symbol, marketdata.Timeframe(d.cfg.MediumTimeframe), d.cfg.Lookback)
		if errS != nil || errM != nil {
			detail.Excluded = true
			detail.ExcludedReason = firstErr(errS, errM)
			state.Details = append(state.Details, detail)
			observ.IncCounter("regime_reference_excluded_total", map[string]string{"symbol": symbol})
			continue
		}

		detail.NetPowerShort = marketdata.NetPower(short)
		detail.NetPowerMedium = marketdata.NetPower(medium)
		state.Details = append(state.Details, detail)
		available++

		for _, power := range []int{detail.NetPowerShort, detail.NetPowerMedium} {
			if power > 0 {
				bullWeight += float64(power)
			} else {
				bearWeight += float64(-power)
			}
		}
	}

	if available == 0 {
		state.Degraded = true
		state.Reason = "all reference symbols unavailable"
		observ.Log("regime_degraded", map[string]any{"basket_size": len(d.cfg.Basket)})
		return state
	}
	state.Degraded = available < len(d.cfg.Basket)

	total := bullWeight + bearWeight
	if total > 0 {
		bullShare := bullWeight / total
		switch {
		case bullShare >= d.cfg.DirectionThreshold:
			state.Direction = Bullish
			state.Strength = bullShare * 100
		case (1 - bullShare) >= d.cfg.DirectionThreshold:
			state.Direction = Bearish
			state.Strength = (1 - bullShare) * 100
		default:
			state.Direction = Neutral
			state.Strength = 0
		}
	}

	d.detectEmergency(ctx, now, &state)
	return state
}

// detectEmergency scans the recent short-timeframe window of the basket for a
// violent drawdown (bottom) or run-up reversal (top). A bottom blocks new
// SHORTs, a top blocks new LONGs, each with a fixed TTL.
func (d *Detector) detectEmergency(ctx context.Context, now time.Time, state *State) {
	// window in short-timeframe candles; 15m candles -> 4 per hour
	perHour := 4
	if d.cfg.ShortTimeframe == "1h" {
		perHour = 1
	}
	window := d.cfg.EmergencyWindowHrs * perHour

	for _, symbol := range d.cfg.Basket {
		candles, err := d.view.RecentCandles(ctx, symbol, marketdata.Timeframe(d.cfg.ShortTimeframe), window)
		if err != nil || len(candles) == 0 {
			continue
		}
		last := candles[len(candles)-1].Close

		if drop, low := maxDrawdown(candles); drop >= d.cfg.EmergencyMovePct {
			reversal := (last - low) / low * 100
			if reversal >= d.cfg.ReversalConfirmPct {
				state.BottomDetected = true
				state.BlockShort = true
				state.Reason = fmt.Sprintf("bottom on %s: %.1f%% drawdown, %.1f%% reversal", symbol, drop, reversal)
			}
		}
		if run, high := maxRunUp(candles); run >= d.cfg.EmergencyMovePct {
			reversal := (high - last) / high * 100
			if reversal >= d.cfg.ReversalConfirmPct {
				state.TopDetected = true
				state.BlockLong = true
				state.Reason = fmt.Sprintf("top on %s: %.1f%% run-up, %.1f%% reversal", symbol, run, reversal)
			}
		}
	}

	if state.BottomDetected || state.TopDetected {
		state.ExpiresAt = now.Add(time.Duration(d.cfg.EmergencyTTLHrs) * time.Hour)
		observ.Log("regime_emergency", map[string]any{
			"bottom":     state.BottomDetected,
			"top":        state.TopDetected,
			"reason":     state.Reason,
			"expires_at": state.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// maxDrawdown returns the largest percentage fall from a running high to a
// subsequent low, and the low price where it bottomed.
func maxDrawdown(candles []marketdata.Candle) (pct float64, lowAt float64) {
	runningHigh := 0.0
	for _, c := range candles {
		if c.High > runningHigh {
			runningHigh = c.High
		}
		if runningHigh <= 0 {
			continue
		}
		dd := (runningHigh - c.Low) / runningHigh * 100
		if dd > pct {
			pct = dd
			lowAt = c.Low
		}
	}
	return pct, lowAt
}

// maxRunUp returns the largest percentage rise from a running low to a
// subsequent high, and the high price where it peaked.
func maxRunUp(candles []marketdata.Candle) (pct float64, highAt float64) {
	runningLow := 0.0
	for _, c := range candles {
		if runningLow == 0 || c.Low < runningLow {
			runningLow = c.Low
		}
		if runningLow <= 0 {
			continue
		}
		ru := (c.High - runningLow) / runningLow * 100
		if ru > pct {
			pct = ru
			highAt = c.High
		}
	}
	return pct, highAt
}

func firstErr(errs ...error) string {
	for _, err := range errs {
		if err != nil {
			return err.Error()
		}
	}
	return ""
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
