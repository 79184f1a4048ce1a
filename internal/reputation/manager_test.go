package reputation

import (
	"testing"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
)

func managerConfig() config.Reputation {
	return config.Reputation{
		WindowDays:     7,
		DemoteLossUSD:  -100,
		DemoteWinRate:  0.35,
		DemoteMinTrade: 8,
		BanLossUSD:     -500,
	}
}

func TestMarginMultipliers(t *testing.T) {
	cases := []struct {
		level Level
		want  float64
	}{
		{LevelNeutral, 1.0},
		{LevelWatch, 0.25},
		{LevelRestricted, 0.125},
		{LevelBanned, 0.0},
	}
	for _, tc := range cases {
		if got := tc.level.MarginMultiplier(); got != tc.want {
			t.Errorf("%s multiplier = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestEvaluateDemotesOnLosses(t *testing.T) {
	m := NewManager(managerConfig())
	now := time.Now()
	lossy := WindowStats{TradeCount: 5, Wins: 1, NetPnLUSD: -150, LossUSD: -180, ProfitUSD: 30}

	r := m.Evaluate("PEPEUSDT", lossy, now)
	if r.Level != LevelWatch {
		t.Fatalf("first demotion: level = %s, want watch", r.Level)
	}

	r = m.Evaluate("PEPEUSDT", lossy, now.Add(24*time.Hour))
	if r.Level != LevelRestricted {
		t.Fatalf("second demotion: level = %s, want restricted", r.Level)
	}

	// tier demotion stops at restricted; only the ban threshold goes further
	r = m.Evaluate("PEPEUSDT", lossy, now.Add(48*time.Hour))
	if r.Level != LevelRestricted {
		t.Fatalf("third demotion: level = %s, want restricted still", r.Level)
	}
}

func TestEvaluateDemotesOnWeakWinRate(t *testing.T) {
	m := NewManager(managerConfig())
	weak := WindowStats{TradeCount: 10, Wins: 2, NetPnLUSD: -20, LossUSD: -60, ProfitUSD: 40}

	r := m.Evaluate("TRXUSDT", weak, time.Now())
	if r.Level != LevelWatch {
		t.Fatalf("win rate 0.20 over 10 trades should demote, level = %s", r.Level)
	}
}

func TestEvaluateSmallSampleWeakWinRateKept(t *testing.T) {
	m := NewManager(managerConfig())
	// 2 of 3 losses is noise below the minimum sample size
	few := WindowStats{TradeCount: 3, Wins: 1, NetPnLUSD: -30, LossUSD: -50, ProfitUSD: 20}

	r := m.Evaluate("LTCUSDT", few, time.Now())
	if r.Level != LevelNeutral {
		t.Fatalf("small sample should not demote, level = %s", r.Level)
	}
}

func TestEvaluateBansOnCatastrophicLoss(t *testing.T) {
	m := NewManager(managerConfig())
	now := time.Now()

	r := m.Evaluate("LUNAUSDT", WindowStats{TradeCount: 6, Wins: 0, NetPnLUSD: -650, LossUSD: -650}, now)
	if r.Level != LevelBanned {
		t.Fatalf("net -650 should ban, level = %s", r.Level)
	}
	if r.Eligible() {
		t.Error("banned symbol must not be eligible")
	}

	// a profitable window never auto-recovers a ban
	r = m.Evaluate("LUNAUSDT", WindowStats{TradeCount: 4, Wins: 4, NetPnLUSD: 300, ProfitUSD: 300}, now.Add(time.Hour))
	if r.Level != LevelBanned {
		t.Fatalf("banned symbol auto-recovered to %s", r.Level)
	}
}

func TestEvaluateRecoversOneTier(t *testing.T) {
	m := NewManager(managerConfig())
	now := time.Now()
	lossy := WindowStats{TradeCount: 5, Wins: 1, NetPnLUSD: -150, LossUSD: -180, ProfitUSD: 30}
	good := WindowStats{TradeCount: 4, Wins: 3, NetPnLUSD: 80, LossUSD: -10, ProfitUSD: 90}

	m.Evaluate("ADAUSDT", lossy, now)
	m.Evaluate("ADAUSDT", lossy, now.Add(time.Hour))
	r := m.Evaluate("ADAUSDT", good, now.Add(2*time.Hour))
	if r.Level != LevelWatch {
		t.Fatalf("positive window recovers one tier: level = %s, want watch", r.Level)
	}
	r = m.Evaluate("ADAUSDT", good, now.Add(3*time.Hour))
	if r.Level != LevelNeutral {
		t.Fatalf("second positive window: level = %s, want neutral", r.Level)
	}
}

func TestEvaluateEmptyWindowCreatesNoRecord(t *testing.T) {
	m := NewManager(managerConfig())
	m.Evaluate("XRPUSDT", WindowStats{}, time.Now())
	if len(m.Snapshot()) != 0 {
		t.Error("a symbol with no trades should not get a rating record")
	}
}

func TestResetBan(t *testing.T) {
	m := NewManager(managerConfig())
	now := time.Now()

	if err := m.ResetBan("BTCUSDT", "ops request", now); err == nil {
		t.Fatal("resetting a non-banned symbol must fail")
	}

	m.Evaluate("LUNAUSDT", WindowStats{TradeCount: 6, NetPnLUSD: -800, LossUSD: -800}, now)
	if err := m.ResetBan("LUNAUSDT", "ops request", now.Add(time.Hour)); err != nil {
		t.Fatalf("reset: %v", err)
	}

	r := m.Rating("LUNAUSDT")
	if r.Level != LevelRestricted {
		t.Fatalf("reset lands on restricted, got %s", r.Level)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m := NewManager(managerConfig())
	m.Evaluate("PEPEUSDT", WindowStats{TradeCount: 5, Wins: 1, NetPnLUSD: -150, LossUSD: -150}, time.Now())

	m2 := NewManager(managerConfig())
	m2.Restore(m.Snapshot())

	if got := m2.Rating("PEPEUSDT").Level; got != LevelWatch {
		t.Fatalf("restored level = %s, want watch", got)
	}
}
