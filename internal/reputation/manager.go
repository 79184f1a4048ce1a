package reputation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/observ"
)

// Manager maintains per-symbol reputation tiers from rolling trade
// statistics. It is the sole writer of Rating records; readers get value
// snapshots.
type Manager struct {
	mu      sync.RWMutex
	cfg     config.Reputation
	ratings map[string]Rating
}

func NewManager(cfg config.Reputation) *Manager {
	return &Manager{cfg: cfg, ratings: make(map[string]Rating)}
}

// Restore seeds the manager from persisted ratings.
func (m *Manager) Restore(ratings []Rating) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range ratings {
		m.ratings[r.Symbol] = r
	}
}

// Rating returns the current rating for a symbol, defaulting to neutral for
// symbols that have never qualified for a record.
func (m *Manager) Rating(symbol string) Rating {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.ratings[symbol]; ok {
		return r
	}
	return Rating{Symbol: symbol, Level: LevelNeutral}
}

// Snapshot returns all ratings sorted by symbol.
func (m *Manager) Snapshot() []Rating {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rating, 0, len(m.ratings))
	for _, r := range m.ratings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Evaluate re-levels one symbol from its rolling-window stats. Promotion to a
// worse tier happens on material losses or poor win rate with sample size;
// a degraded symbol showing positive rolling P&L recovers one tier. Banned
// symbols never auto-recover.
func (m *Manager) Evaluate(symbol string, stats WindowStats, now time.Time) Rating {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.ratings[symbol]
	if !exists {
		if stats.TradeCount == 0 {
			return Rating{Symbol: symbol, Level: LevelNeutral}
		}
		current = Rating{Symbol: symbol, Level: LevelNeutral, ChangedAt: now}
	}

	next := current
	next.TradeCount = stats.TradeCount
	next.WinRate = stats.WinRate()
	next.LossUSD = stats.LossUSD
	next.ProfitUSD = stats.ProfitUSD

	level, reason := m.targetLevel(current.Level, stats)
	if level != current.Level {
		next.Level = level
		next.Reason = reason
		next.ChangedAt = now
		observ.Log("symbol_rating_changed", map[string]any{
			"symbol": symbol,
			"from":   current.Level.String(),
			"to":     level.String(),
			"reason": reason,
		})
		observ.IncCounter("reputation_level_changes_total", map[string]string{
			"symbol": symbol,
			"to":     level.String(),
		})
	}

	m.ratings[symbol] = next
	observ.SetGauge("symbol_rating_level", float64(next.Level), map[string]string{"symbol": symbol})
	return next
}

func (m *Manager) targetLevel(current Level, stats WindowStats) (Level, string) {
	// tier 3 requires an explicit external reset
	if current == LevelBanned {
		return LevelBanned, ""
	}

	if stats.NetPnLUSD <= m.cfg.BanLossUSD {
		return LevelBanned, fmt.Sprintf("catastrophic loss: net %.2f USD over window", stats.NetPnLUSD)
	}

	lossy := stats.NetPnLUSD <= m.cfg.DemoteLossUSD
	weak := stats.TradeCount >= m.cfg.DemoteMinTrade && stats.WinRate() < m.cfg.DemoteWinRate
	if lossy || weak {
		if current < LevelRestricted {
			why := fmt.Sprintf("net %.2f USD, win rate %.2f over %d trades",
				stats.NetPnLUSD, stats.WinRate(), stats.TradeCount)
			return current + 1, why
		}
		return current, ""
	}

	// recovery chance: one tier back on a positive rolling window
	if current > LevelNeutral && stats.TradeCount > 0 && stats.NetPnLUSD > 0 {
		return current - 1, fmt.Sprintf("recovered: net +%.2f USD over %d trades",
			stats.NetPnLUSD, stats.TradeCount)
	}
	return current, ""
}

// ResetBan clears a banned symbol back to restricted. This is the explicit
// external reset; nothing in the engine calls it on a schedule.
func (m *Manager) ResetBan(symbol, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.ratings[symbol]
	if !ok || current.Level != LevelBanned {
		return fmt.Errorf("symbol %s is not banned", symbol)
	}
	current.Level = LevelRestricted
	current.Reason = "manual reset: " + reason
	current.ChangedAt = now
	m.ratings[symbol] = current
	observ.Log("symbol_ban_reset", map[string]any{"symbol": symbol, "reason": reason})
	return nil
}
