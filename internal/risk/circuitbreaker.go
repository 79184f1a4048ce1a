package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/observ"
	"github.com/quantfall/futures-engine/internal/tradelog"
)

// State is the account-level circuit breaker record.
type State struct {
	Active        bool      `json:"active"`
	ActivatedAt   time.Time `json:"activated_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// CircuitBreaker halts new position opens after abnormal losses: either a
// streak of consecutive losing trades inside a short window, or cumulative
// drawdown beyond a share of account equity inside a rolling window. Open
// positions are unaffected; only new opens are gated.
type CircuitBreaker struct {
	mu    sync.RWMutex
	cfg   config.Breaker
	state State
}

func NewCircuitBreaker(cfg config.Breaker) *CircuitBreaker {
	cb := &CircuitBreaker{cfg: cfg}
	if err := cb.replayEvents(); err != nil {
		observ.IncCounter("breaker_replay_errors_total", nil)
	}
	return cb
}

// Allow reports whether a new position may be opened right now. While the
// breaker is active every open request is rejected with a stable reason.
func (cb *CircuitBreaker) Allow(now time.Time) (bool, string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state.Active {
		return false, "circuit_breaker_active"
	}
	return true, ""
}

// Status returns a copy of the current breaker state.
func (cb *CircuitBreaker) Status() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Evaluate runs the trigger check over recent closed trades. While active and
// past cooldown, the breaker auto-clears only if the trigger condition no
// longer holds; otherwise the cooldown restarts.
func (cb *CircuitBreaker) Evaluate(trades []tradelog.ClosedTrade, equityUSD float64, now time.Time) State {
	tripped, reason := cb.triggered(trades, equityUSD, now)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case !cb.state.Active && tripped:
		cb.activate(reason, now)
	case cb.state.Active && now.After(cb.state.CooldownUntil):
		if tripped {
			// condition still holds, restart the cooldown
			cb.state.CooldownUntil = now.Add(cb.cooldown())
			cb.state.Reason = reason
			cb.appendEvent("cooldown_restarted", reason, now)
			observ.Log("breaker_cooldown_restarted", map[string]any{"reason": reason})
		} else {
			cb.clear("cooldown_elapsed", now)
		}
	}

	observ.SetGauge("circuit_breaker_active", boolGauge(cb.state.Active), nil)
	return cb.state
}

// Resume is the manual override clearing an active breaker. It is an
// operator action, never called on a schedule.
func (cb *CircuitBreaker) Resume(operator, reason string, now time.Time) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.state.Active {
		return fmt.Errorf("circuit breaker is not active")
	}
	cb.clear(fmt.Sprintf("manual_resume by %s: %s", operator, reason), now)
	return nil
}

// Restore seeds the breaker from a persisted snapshot.
func (cb *CircuitBreaker) Restore(state State) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = state
}

func (cb *CircuitBreaker) activate(reason string, now time.Time) {
	cb.state = State{
		Active:        true,
		ActivatedAt:   now,
		CooldownUntil: now.Add(cb.cooldown()),
		Reason:        reason,
	}
	cb.appendEvent("activated", reason, now)
	observ.IncCounter("breaker_activations_total", nil)
	observ.Log("breaker_activated", map[string]any{
		"reason":         reason,
		"cooldown_until": cb.state.CooldownUntil.UTC().Format(time.RFC3339),
	})
}

func (cb *CircuitBreaker) clear(reason string, now time.Time) {
	cb.state = State{}
	cb.appendEvent("cleared", reason, now)
	observ.Log("breaker_cleared", map[string]any{"reason": reason})
}

func (cb *CircuitBreaker) cooldown() time.Duration {
	return time.Duration(cb.cfg.CooldownMin) * time.Minute
}

// triggered checks both trip conditions against the trade history.
func (cb *CircuitBreaker) triggered(trades []tradelog.ClosedTrade, equityUSD float64, now time.Time) (bool, string) {
	sorted := make([]tradelog.ClosedTrade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ClosedAt.After(sorted[j].ClosedAt) })

	// consecutive losses within the short window, newest first
	lossWindow := now.Add(-time.Duration(cb.cfg.LossWindowMin) * time.Minute)
	streak := 0
	for _, t := range sorted {
		if t.ClosedAt.Before(lossWindow) {
			break
		}
		if t.RealizedPnL >= 0 {
			break
		}
		streak++
	}
	if streak >= cb.cfg.ConsecutiveLosses {
		return true, fmt.Sprintf("%d consecutive losing trades within %dm", streak, cb.cfg.LossWindowMin)
	}

	// cumulative drawdown over the rolling window
	if equityUSD > 0 {
		ddWindow := now.Add(-time.Duration(cb.cfg.DrawdownWindowHrs) * time.Hour)
		net := 0.0
		for _, t := range sorted {
			if t.ClosedAt.Before(ddWindow) {
				continue
			}
			net += t.RealizedPnL
		}
		ddPct := -net / equityUSD * 100
		if ddPct >= cb.cfg.DrawdownPct {
			return true, fmt.Sprintf("drawdown %.1f%% of equity within %dh", ddPct, cb.cfg.DrawdownWindowHrs)
		}
	}

	return false, ""
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
