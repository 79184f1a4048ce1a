package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/tradelog"
)

func breakerConfig(t *testing.T) config.Breaker {
	t.Helper()
	return config.Breaker{
		ConsecutiveLosses: 4,
		LossWindowMin:     60,
		DrawdownPct:       10,
		DrawdownWindowHrs: 24,
		CooldownMin:       120,
		EventLogPath:      filepath.Join(t.TempDir(), "breaker.jsonl"),
	}
}

func losses(n int, pnl float64, now time.Time, spacing time.Duration) []tradelog.ClosedTrade {
	out := make([]tradelog.ClosedTrade, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tradelog.ClosedTrade{
			ID:          string(rune('a' + i)),
			Symbol:      "BTCUSDT",
			RealizedPnL: pnl,
			ClosedAt:    now.Add(-time.Duration(i) * spacing),
		})
	}
	return out
}

func TestTripsOnConsecutiveLosses(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	state := cb.Evaluate(losses(4, -20, now, 10*time.Minute), 10000, now)
	if !state.Active {
		t.Fatal("4 consecutive losses within the window must trip the breaker")
	}

	ok, reason := cb.Allow(now)
	if ok {
		t.Fatal("active breaker must deny new opens")
	}
	if reason != "circuit_breaker_active" {
		t.Errorf("denial reason = %q, want circuit_breaker_active", reason)
	}
}

func TestThreeLossesDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	state := cb.Evaluate(losses(3, -20, now, 10*time.Minute), 10000, now)
	if state.Active {
		t.Fatal("3 losses are below the streak threshold")
	}
}

func TestWinBreaksTheStreak(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	trades := losses(3, -20, now, 5*time.Minute)
	trades = append(trades, tradelog.ClosedTrade{ID: "w", RealizedPnL: 15, ClosedAt: now.Add(-16 * time.Minute)})
	trades = append(trades, tradelog.ClosedTrade{ID: "x", RealizedPnL: -30, ClosedAt: now.Add(-20 * time.Minute)})

	state := cb.Evaluate(trades, 10000, now)
	if state.Active {
		t.Fatal("a win inside the streak must reset the consecutive count")
	}
}

func TestOldLossesOutsideWindowIgnored(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	// 4 losses but spread over 4 hours: only one falls inside the 60m window
	state := cb.Evaluate(losses(4, -20, now, time.Hour), 10000, now)
	if state.Active {
		t.Fatal("losses outside the loss window must not count toward the streak")
	}
}

func TestTripsOnDrawdown(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	// 3 big losses inside 24h: streak below 4 but 11% of equity gone
	state := cb.Evaluate(losses(3, -370, now, 2*time.Hour), 10000, now)
	if !state.Active {
		t.Fatal("11% equity drawdown within 24h must trip the breaker")
	}
}

func TestCooldownAutoClearsWhenConditionGone(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	cb.Evaluate(losses(4, -20, now, 10*time.Minute), 10000, now)

	later := now.Add(3 * time.Hour) // past the 2h cooldown, losses outside both windows
	state := cb.Evaluate(nil, 10000, later)
	if state.Active {
		t.Fatal("breaker should auto-clear after cooldown once the trigger no longer holds")
	}
	if ok, _ := cb.Allow(later); !ok {
		t.Error("cleared breaker must allow opens")
	}
}

func TestCooldownRestartsWhileConditionHolds(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	first := cb.Evaluate(losses(3, -400, now, 2*time.Hour), 10000, now)
	if !first.Active {
		t.Fatal("expected drawdown trip")
	}

	// past cooldown but the same drawdown still sits inside the 24h window
	later := now.Add(3 * time.Hour)
	state := cb.Evaluate(losses(3, -400, now, 2*time.Hour), 10000, later)
	if !state.Active {
		t.Fatal("breaker must stay active while the condition holds")
	}
	if !state.CooldownUntil.After(first.CooldownUntil) {
		t.Error("cooldown should restart, not keep the original deadline")
	}
}

func TestManualResume(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(t))
	now := time.Now()

	if err := cb.Resume("ops", "testing", now); err == nil {
		t.Fatal("resuming an inactive breaker must fail")
	}

	cb.Evaluate(losses(4, -20, now, 10*time.Minute), 10000, now)
	if err := cb.Resume("ops", "verified fat-finger trades", now.Add(time.Minute)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if ok, _ := cb.Allow(now.Add(2 * time.Minute)); !ok {
		t.Error("manually resumed breaker must allow opens")
	}
}

func TestEventLogReplayRestoresActiveState(t *testing.T) {
	cfg := breakerConfig(t)
	now := time.Now()

	cb := NewCircuitBreaker(cfg)
	cb.Evaluate(losses(4, -20, now, 10*time.Minute), 10000, now)

	// a restart replays the log and comes back active
	restarted := NewCircuitBreaker(cfg)
	state := restarted.Status()
	if !state.Active {
		t.Fatal("replayed breaker must still be active")
	}
	if state.Reason == "" {
		t.Error("replayed state should carry the original reason")
	}
	if ok, _ := restarted.Allow(now); ok {
		t.Error("replayed active breaker must deny opens")
	}
}

func TestEventLogReplayClearedState(t *testing.T) {
	cfg := breakerConfig(t)
	now := time.Now()

	cb := NewCircuitBreaker(cfg)
	cb.Evaluate(losses(4, -20, now, 10*time.Minute), 10000, now)
	if err := cb.Resume("ops", "done", now.Add(time.Minute)); err != nil {
		t.Fatalf("resume: %v", err)
	}

	restarted := NewCircuitBreaker(cfg)
	if restarted.Status().Active {
		t.Fatal("a cleared tail event must replay as inactive")
	}
}
