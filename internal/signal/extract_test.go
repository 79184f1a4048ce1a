package signal

import (
	"context"
	"testing"
	"time"

	"github.com/quantfall/futures-engine/internal/marketdata"
)

// rising builds n candles climbing stepPct per candle from start.
func rising(symbol string, tf marketdata.Timeframe, n int, start, stepPct float64) []marketdata.Candle {
	out := make([]marketdata.Candle, 0, n)
	price := start
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		next := price * (1 + stepPct/100)
		out = append(out, marketdata.Candle{
			Symbol: symbol, Timeframe: tf,
			Open: price, High: next * 1.001, Low: price * 0.999, Close: next,
			Volume: 100, OpenTime: base.Add(time.Duration(i) * 15 * time.Minute),
		})
		price = next
	}
	return out
}

func TestActivationsOnStrongUptrend(t *testing.T) {
	view := marketdata.NewMockView()
	for _, tf := range []marketdata.Timeframe{marketdata.TF15m, marketdata.TF1h, marketdata.TF1d} {
		view.SetCandles("BTCUSDT", tf, rising("BTCUSDT", tf, 20, 100, 0.5))
	}

	acts, err := NewExtractor(view).Activations(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	byKind := map[Kind]Activation{}
	for _, a := range acts {
		byKind[a.Kind] = a
	}
	for _, k := range []Kind{KindMomentum, KindTrend1h, KindTrend1d, KindConsecutiveTrend, KindBreakout} {
		a, ok := byKind[k]
		if !ok {
			t.Errorf("uptrend should activate %s", k)
			continue
		}
		if a.Direction != Long {
			t.Errorf("%s direction = %s, want LONG", k, a.Direction)
		}
	}
	if _, ok := byKind[KindBreakdown]; ok {
		t.Error("uptrend must not activate breakdown")
	}
}

func TestActivationsPropagateDataErrors(t *testing.T) {
	view := marketdata.NewMockView()
	view.FailSymbol("BADUSDT", marketdata.NewUnavailableError("BADUSDT", "down"))

	if _, err := NewExtractor(view).Activations(context.Background(), "BADUSDT"); err == nil {
		t.Fatal("missing data must surface as an error, not an empty activation set")
	}
}

func TestRangePositionEdges(t *testing.T) {
	mk := func(closes ...float64) []marketdata.Candle {
		out := make([]marketdata.Candle, 0, len(closes))
		for _, c := range closes {
			out = append(out, marketdata.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1})
		}
		return out
	}

	if dir, _, ok := rangePosition(mk(100, 150, 101)); !ok || dir != Long {
		t.Errorf("close near range low should argue LONG, got %v %v", dir, ok)
	}
	if dir, _, ok := rangePosition(mk(100, 150, 149)); !ok || dir != Short {
		t.Errorf("close near range high should argue SHORT, got %v %v", dir, ok)
	}
	if _, _, ok := rangePosition(mk(100, 150, 125)); ok {
		t.Error("mid-range close should not activate")
	}
}

func TestConsecutiveRunNeedsThree(t *testing.T) {
	bull := marketdata.Candle{Open: 100, High: 102, Low: 99, Close: 101, Volume: 1}
	bear := marketdata.Candle{Open: 101, High: 102, Low: 99, Close: 100, Volume: 1}

	if _, _, ok := consecutiveRun([]marketdata.Candle{bear, bull, bull}); ok {
		t.Error("run of 2 should not activate")
	}
	dir, v, ok := consecutiveRun([]marketdata.Candle{bear, bull, bull, bull})
	if !ok || dir != Long || v != 3 {
		t.Errorf("run of 3 bullish: got dir=%v v=%v ok=%v", dir, v, ok)
	}
}
